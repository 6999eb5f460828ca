package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "env", Usage: "path to env file", Value: ".env"}
	}
	verboseFlag := func() cli.Flag {
		return &cli.BoolFlag{Name: "verbose", Usage: "log every poll"}
	}

	app := &cli.Command{
		Name:  "jobwatch",
		Usage: "trigger and watch corporate analysis jobs",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "trigger a job for a corporation and watch it to the end",
				Flags: []cli.Flag{
					envFlag(),
					verboseFlag(),
					&cli.StringFlag{Name: "corp", Usage: "corporation id", Required: true},
					&cli.StringFlag{Name: "type", Usage: "job type (profile_refresh, analyze)", Value: "profile_refresh"},
				},
				Action: runAction,
			},
			{
				Name:  "watch",
				Usage: "watch an already triggered job",
				Flags: []cli.Flag{
					envFlag(),
					verboseFlag(),
					&cli.StringFlag{Name: "job", Usage: "job id", Required: true},
					&cli.StringFlag{Name: "corp", Usage: "corporation id shown in messages"},
				},
				Action: watchAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
