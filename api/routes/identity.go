package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendly/backend/api/controllers"
	"github.com/attendly/backend/api/middleware"
	"github.com/attendly/backend/internal/identity"
	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/enums"
	"github.com/attendly/backend/pkg/logger"
)

// NewIdentityRouter assembles the identity service HTTP surface.
func NewIdentityRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *prometheus.Registry,
	identityService *identity.Service,
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

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", controllers.AuthLogin(identityService, logg))
		r.Post("/register-admin", controllers.AuthRegisterAdmin(identityService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.With(middleware.RequireRole(string(enums.RoleAdmin), logg)).
				Post("/register", controllers.AuthRegister(identityService, logg))
			r.Patch("/password", controllers.AuthUpdatePassword(identityService, logg))
		})
	})

	return r
}
