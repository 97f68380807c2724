package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/creditsync/internal/cron"
	"github.com/angelmondragon/creditsync/internal/daemon"
	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/db"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/metrics"
	"github.com/angelmondragon/creditsync/pkg/migrate"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	cfg, logg, err := daemon.Boot(serviceName)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	var closers daemon.Closers
	defer func() {
		if err := closers.Close(); err != nil {
			logg.Error(bootCtx, "error releasing resources", err)
		}
	}()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	closers.Add(dbClient.Close)
	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	lock, err := newLock(bootCtx, cfg, logg, &closers)
	if err != nil {
		return err
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repo:             outboxRepo,
		Retention:        cfg.Cron.OutboxRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return err
	}
	backlog, err := cron.NewOutboxBacklogJob(cron.OutboxBacklogJobParams{
		Logger:      logg,
		Repo:        outboxRepo,
		Threshold:   cfg.Cron.BacklogWarn,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return err
	}
	jobs, err := cron.NewRegistry(retention, backlog)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(promRegistry),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = daemon.Tag(ctx, logg, cfg, serviceName)

	logg.Info(ctx, "starting cron worker")
	err = daemon.Serve(ctx, logg, &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}, service.Run)
	if err == nil {
		logg.Info(ctx, "cron worker shut down gracefully")
	}
	return err
}

// newLock uses Redis when configured so replicas take turns; without Redis
// the worker must run as a single replica.
func newLock(ctx context.Context, cfg *config.Config, logg *logger.Logger, closers *daemon.Closers) (cron.Lock, error) {
	if !cfg.Redis.Enabled() {
		logg.Warn(ctx, "redis not configured, run a single cron-worker replica")
		return &cron.LocalLock{}, nil
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, err
	}
	closers.Add(redisClient.Close)
	lock, err := cron.NewRedisLock(redisClient, redisClient.Key(serviceName, "lock", lockScope(cfg.App.Env)), 0)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// lockScope keeps replicas of different environments sharing one Redis
// from blocking each other.
func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
