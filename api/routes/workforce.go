package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendly/backend/api/controllers"
	"github.com/attendly/backend/api/middleware"
	"github.com/attendly/backend/internal/workforce"
	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/enums"
	"github.com/attendly/backend/pkg/logger"
)

// NewWorkforceRouter assembles the workforce service HTTP surface.
func NewWorkforceRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *prometheus.Registry,
	staffService *workforce.StaffService,
	attendanceService *workforce.AttendanceService,
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

	adminOnly := middleware.RequireRole(string(enums.RoleAdmin), logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/staffs", func(r chi.Router) {
			r.Get("/", controllers.StaffList(staffService, logg))
			r.Get("/me", controllers.StaffGetMe(staffService, logg))
			r.Get("/{userID}", controllers.StaffGet(staffService, logg))
			r.With(adminOnly).Post("/", controllers.StaffCreate(staffService, logg))
			r.Patch("/{staffID}", controllers.StaffUpdate(staffService, logg))
			r.With(adminOnly).Delete("/{staffID}", controllers.StaffDelete(staffService, logg))
		})

		r.Get("/positions", controllers.PositionList(staffService, logg))
		r.Post("/files", controllers.FileUpload(staffService, logg))

		r.Route("/attendances", func(r chi.Router) {
			r.Post("/clock-in", controllers.AttendanceClockIn(attendanceService, logg))
			r.Post("/clock-out", controllers.AttendanceClockOut(attendanceService, logg))
			r.Get("/me", controllers.AttendanceListMine(attendanceService, logg))
			r.With(adminOnly).Get("/", controllers.AttendanceListAll(attendanceService, logg))
		})
	})

	return r
}
