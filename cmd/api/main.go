package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/corpsignal/internal/cache"
	"github.com/SirClappington/corpsignal/internal/config"
	"github.com/SirClappington/corpsignal/internal/httpapi"
	"github.com/SirClappington/corpsignal/internal/jobapi"
	"github.com/SirClappington/corpsignal/internal/reconcile"
	"github.com/SirClappington/corpsignal/internal/refresh"
	"github.com/SirClappington/corpsignal/internal/storage"
)

func main() {
	cfg, err := config.Load(envFile())
	if err != nil {
		log.Fatal(err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func envFile() string {
	if v := os.Getenv("ENV_FILE"); v != "" {
		return v
	}
	return ".env"
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var store cache.Store = cache.NewMemory(cfg.CacheTTL)
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		store = cache.NewTiered(cache.NewMemory(cfg.CacheNearTTL), cache.NewRedis(rdb, cfg.RedisPrefix, cfg.CacheTTL))
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process cache")
	}
	reader := cache.NewReader(store, logger)

	var journal refresh.Journal
	if cfg.PostgresDSN != "" {
		if err := storage.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
			return err
		}
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return errors.Wrap(err, "postgres pool")
		}
		defer db.Close()
		journal = storage.New(db)
	}

	api := jobapi.New(cfg.BackendURL,
		jobapi.WithToken(cfg.BackendToken),
		jobapi.WithTimeout(cfg.HTTPTimeout),
		jobapi.WithLogger(logger),
	)
	rec := reconcile.New(reader, reconcile.LogNotifier{Log: logger}, logger)
	mgr, err := refresh.NewManager(api, rec, journal, refresh.Config{
		Interval: cfg.PollInterval,
		Timeout:  cfg.PollTimeout,
	}, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           httpapi.NewRouter(mgr, refresh.NewProfiles(api, reader), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		mgr.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
