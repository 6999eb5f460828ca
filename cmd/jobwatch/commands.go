package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/SirClappington/corpsignal/internal/config"
	"github.com/SirClappington/corpsignal/internal/domain"
	"github.com/SirClappington/corpsignal/internal/jobapi"
	"github.com/SirClappington/corpsignal/internal/poller"
	"github.com/SirClappington/corpsignal/internal/reconcile"
)

const (
	exitFailed   = 2
	exitTimedOut = 3
	exitTrigger  = 4
)

type watcher struct {
	api      poller.Fetcher
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	out      io.Writer
}

func setup(cmd *cli.Command) (*watcher, *jobapi.Client, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if !cmd.Bool("verbose") {
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	log, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	api := jobapi.New(cfg.BackendURL,
		jobapi.WithToken(cfg.BackendToken),
		jobapi.WithTimeout(cfg.HTTPTimeout),
		jobapi.WithLogger(log),
	)
	return &watcher{
		api:      api,
		interval: cfg.PollInterval,
		timeout:  cfg.PollTimeout,
		log:      log,
		out:      os.Stdout,
	}, api, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	jt, err := domain.ParseJobType(cmd.String("type"))
	if err != nil {
		return err
	}
	w, api, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()

	corpID := cmd.String("corp")
	res, err := api.Trigger(ctx, jt, corpID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("trigger failed: %v", err), exitTrigger)
	}
	fmt.Fprintf(w.out, "job %s queued for %s\n", res.JobID, corpID)
	return w.watch(ctx, res.JobID, corpID)
}

func watchAction(ctx context.Context, cmd *cli.Command) error {
	w, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = w.log.Sync() }()
	return w.watch(ctx, cmd.String("job"), cmd.String("corp"))
}

// watch polls jobID until it ends and maps the outcome to an exit code.
func (w *watcher) watch(ctx context.Context, jobID, corpID string) error {
	p, err := poller.New(w.api, poller.Config{
		Interval: w.interval,
		Timeout:  w.timeout,
		Logger:   w.log,
		OnUpdate: func(j *domain.Job) { fmt.Fprintln(w.out, progressLine(j)) },
	})
	if err != nil {
		return err
	}
	defer p.Close()

	p.Start(jobID)
	out, err := p.Wait(ctx)
	if err != nil {
		return err
	}

	n, _ := reconcile.New(nil, nil, w.log).Reconcile(ctx, corpID, out)
	msg := n.Title + ": " + n.Message
	if n.Code != "" {
		msg += " [" + n.Code + "]"
	}
	switch out.Kind {
	case poller.Failed:
		return cli.Exit(msg, exitFailed)
	case poller.TimedOut:
		return cli.Exit(msg, exitTimedOut)
	}
	fmt.Fprintln(w.out, msg)
	return nil
}

func progressLine(j *domain.Job) string {
	line := fmt.Sprintf("[%3d%%] %-7s", j.Progress.Percent, j.Status)
	if s := j.Progress.Step; s != "" {
		if i := s.Index(); i > 0 {
			line += fmt.Sprintf(" %s (%d/%d)", s.Label(), i, len(domain.Pipeline))
		} else {
			line += " " + s.Label()
		}
	}
	return line
}
