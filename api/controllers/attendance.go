package controllers

import (
	"net/http"

	"github.com/attendly/backend/api/responses"
	"github.com/attendly/backend/api/validators"
	"github.com/attendly/backend/internal/workforce"
	"github.com/attendly/backend/pkg/logger"
)

// AttendanceClockIn opens today's attendance for the caller.
func AttendanceClockIn(svc *workforce.AttendanceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attendance, err := svc.ClockIn(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, attendance)
	}
}

// AttendanceClockOut closes today's attendance for the caller.
func AttendanceClockOut(svc *workforce.AttendanceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attendance, err := svc.ClockOut(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, attendance)
	}
}

// AttendanceListMine lists the caller's attendances in an optional range.
func AttendanceListMine(svc *workforce.AttendanceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		from, err := validators.ParseQueryDate(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := validators.ParseQueryDate(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attendances, err := svc.FindMyAttendances(r.Context(), userID, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, attendances)
	}
}

// AttendanceListAll lists every staff member's attendances. Admin only via
// the route guard.
func AttendanceListAll(svc *workforce.AttendanceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.FindAllAttendances(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}
