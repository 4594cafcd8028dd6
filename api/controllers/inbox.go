package controllers

import (
	"net/http"

	"github.com/attendly/backend/api/responses"
	"github.com/attendly/backend/internal/notifications"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/realtime"
)

// InboxList returns the caller's notifications, newest first.
func InboxList(svc *notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items, err := svc.GetInbox(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

// InboxSocket upgrades the request and registers the caller's socket in the
// realtime hub. The auth middleware resolves the recipient.
func InboxSocket(hub *realtime.Hub, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime hub unavailable"))
			return
		}

		userID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hub.HandleConnection(w, r, userID)
	}
}
