package validators

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/attendly/backend/pkg/errors"
)

const queryDateLayout = "2006-01-02"

// ParseQueryDate reads an optional date query parameter. Accepts YYYY-MM-DD
// or RFC 3339; returns nil when the parameter is absent.
func ParseQueryDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(queryDateLayout, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a date").
		WithDetails(map[string]any{"field": key, "formats": []string{queryDateLayout, time.RFC3339}})
}

// URLParamUUID parses a chi URL parameter as a UUID.
func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").
			WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
