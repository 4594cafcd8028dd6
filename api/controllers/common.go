package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/attendly/backend/api/middleware"
	"github.com/attendly/backend/pkg/enums"
	pkgerrors "github.com/attendly/backend/pkg/errors"
)

// actorFromContext resolves the authenticated caller seeded by the auth
// middleware.
func actorFromContext(ctx context.Context) (uuid.UUID, enums.UserRole, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	role, err := enums.ParseUserRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return userID, role, nil
}
