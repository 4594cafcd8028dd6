package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/attendly/backend/pkg/enums"
)

// AccessTokenPayload is the identity material baked into an access token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Email  string
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims is the JWT claim set shared by every service.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"uid"`
	Email  string         `json:"email"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
