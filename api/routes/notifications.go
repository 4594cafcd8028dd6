package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendly/backend/api/controllers"
	"github.com/attendly/backend/api/middleware"
	"github.com/attendly/backend/internal/notifications"
	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/realtime"
)

// NewNotificationsRouter assembles the notifications service HTTP surface.
func NewNotificationsRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *prometheus.Registry,
	inboxService *notifications.Service,
	hub *realtime.Hub,
	deps ...controllers.Dependency,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/api/v1/inbox", controllers.InboxList(inboxService, logg))
		r.Get("/ws", controllers.InboxSocket(hub, logg))
	})

	return r
}
