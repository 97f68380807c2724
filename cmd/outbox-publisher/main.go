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

	"github.com/angelmondragon/creditsync/internal/daemon"
	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/db"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/metrics"
	"github.com/angelmondragon/creditsync/pkg/migrate"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/outbox/registry"
	"github.com/angelmondragon/creditsync/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	cfg, logg, err := daemon.Boot(serviceName)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "outbox publisher stopped unexpectedly", err)
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

	pubsubClient, err := pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	closers.Add(pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
		Metrics:    metrics.NewPublisherMetrics(promRegistry),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = daemon.Tag(ctx, logg, cfg, serviceName)

	logg.Info(logg.WithField(ctx, "topics", eventRegistry.Topics()), "starting outbox publisher")
	err = daemon.Serve(ctx, logg, &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}, service.Run)
	if err == nil {
		logg.Info(ctx, "outbox publisher shut down gracefully")
	}
	return err
}
