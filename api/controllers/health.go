package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/creditsync/api/responses"
	"github.com/angelmondragon/creditsync/pkg/config"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const (
	envHeader    = "X-CreditSync-Env"
	readyTimeout = 2 * time.Second
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck names one readiness dependency. Optional checks report their
// state but never fail the probe.
type ReadyCheck struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := map[string]string{}
		for _, check := range checks {
			if check.Pinger == nil {
				status[check.Name] = "disabled"
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				status[check.Name] = "down"
				if !check.Optional {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.Name+" unavailable").
						WithDetails(map[string]any{"checks": status}))
					return
				}
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "dependency", check.Name), "optional dependency unavailable")
				}
				continue
			}
			status[check.Name] = "ok"
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": status})
	}
}
