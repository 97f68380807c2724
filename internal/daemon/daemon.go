// Package daemon holds the process plumbing shared by the long-running
// binaries: config bootstrap, ordered resource cleanup and running an HTTP
// listener next to background loops until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/instance"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Boot loads an optional .env file and the environment config, then
// returns a logger built from that config.
func Boot(serviceName string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	}), nil
}

// Tag adds the fields every line of a process should carry.
func Tag(ctx context.Context, logg *logger.Logger, cfg *config.Config, serviceName string) context.Context {
	return logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"instance":    instance.GetID(),
	})
}

// Closers releases resources in reverse order of acquisition.
type Closers []func() error

func (c *Closers) Add(fn func() error) {
	*c = append(*c, fn)
}

// Close runs every closer and combines their errors.
func (c Closers) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i]())
	}
	return err
}

// Serve runs srv and every loop until ctx is canceled or one of them fails.
// The first failure cancels the rest; srv is then shut down gracefully.
// Cancellation of ctx itself is a clean exit and returns nil.
func Serve(ctx context.Context, logg *logger.Logger, srv *http.Server, loops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", srv.Addr), "http listener starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
