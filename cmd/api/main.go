package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/creditsync/api/controllers"
	"github.com/angelmondragon/creditsync/api/routes"
	"github.com/angelmondragon/creditsync/internal/daemon"
	"github.com/angelmondragon/creditsync/internal/entitlements"
	stripewebhook "github.com/angelmondragon/creditsync/internal/webhooks/stripe"
	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/db"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/metrics"
	"github.com/angelmondragon/creditsync/pkg/migrate"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/redis"
	pkgstripe "github.com/angelmondragon/creditsync/pkg/stripe"
)

const (
	serviceName = "api"
	markerScope = "stripe_event"
)

func main() {
	cfg, logg, err := daemon.Boot(serviceName)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
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

	readyChecks := []controllers.ReadyCheck{{Name: "database", Pinger: dbClient}}

	var marker *stripewebhook.EventMarker
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		closers.Add(redisClient.Close)
		marker, err = stripewebhook.NewEventMarker(redisClient, cfg.Eventing.EventMarkerTTL, markerScope)
		if err != nil {
			return err
		}
		readyChecks = append(readyChecks, controllers.ReadyCheck{Name: "redis", Pinger: redisClient, Optional: true})
	} else {
		logg.Warn(bootCtx, "redis not configured, duplicate deliveries are caught by the ledger only")
	}

	stripeClient, err := pkgstripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	entitlementSvc, err := entitlements.NewService(entitlements.ServiceParams{
		Repo:   entitlements.NewRepository(dbClient.DB()),
		DB:     dbClient,
		Outbox: outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger: logg,
	})
	if err != nil {
		return err
	}

	authenticator, err := stripewebhook.NewAuthenticator(stripeClient.SigningSecret(), cfg.Stripe.Tolerance)
	if err != nil {
		return err
	}
	resolver, err := stripewebhook.NewResolver(stripeClient, logg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := stripewebhook.NewEngine(stripewebhook.EngineParams{
		Authenticator: authenticator,
		Resolver:      resolver,
		Reconciler:    entitlementSvc,
		Marker:        marker,
		Metrics:       metrics.NewWebhookMetrics(promRegistry),
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(daemon.Tag(ctx, logg, cfg, serviceName), "stripe", stripeClient.Environment())

	err = daemon.Serve(ctx, logg, &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(routes.Deps{
			Config:       cfg,
			Logger:       logg,
			Engine:       engine,
			Entitlements: entitlementSvc,
			ReadyChecks:  readyChecks,
			Gatherer:     promRegistry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	})
	if err == nil {
		logg.Info(ctx, "api server shut down gracefully")
	}
	return err
}
