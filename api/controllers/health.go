package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/attendly/backend/api/responses"
	"github.com/attendly/backend/pkg/config"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/logger"
)

const readyTimeout = 5 * time.Second

// Pinger is any dependency the readiness probe can check.
type Pinger interface {
	Ping(context.Context) error
}

// Dependency names a pinger for the readiness report.
type Dependency struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Attendly-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each dependency and reports 503 when any is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Attendly-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		statuses := map[string]string{}
		healthy := true
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				healthy = false
				statuses[dep.Name] = "down"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", dep.Name), "readiness check failed", err)
				}
				continue
			}
			statuses[dep.Name] = "up"
		}

		if !healthy {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}
