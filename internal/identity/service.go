package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/auth"
	"github.com/attendly/backend/pkg/config"
	dbpkg "github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/enums"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/outbox"
	"github.com/attendly/backend/pkg/security"
)

// TxRunner abstracts db.Client.WithTx for testing.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RegisterRequest is the payload for admin-driven user creation.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required"`
}

// RegisterAdminRequest seeds an administrator account on a fresh deployment.
type RegisterAdminRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest authenticates an existing user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdatePasswordRequest replaces the caller's password.
type UpdatePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// LoginResult carries the minted token plus the authenticated user.
type LoginResult struct {
	Token string
	User  *models.User
}

// Service implements the identity operations.
type Service struct {
	tx          TxRunner
	repo        *Repository
	emitter     *outbox.Emitter
	passwordCfg config.PasswordConfig
	jwtCfg      config.JWTConfig
	logg        *logger.Logger
	now         func() time.Time
}

// ServiceParams packages the service dependencies.
type ServiceParams struct {
	Tx             TxRunner
	Repo           *Repository
	Emitter        *outbox.Emitter
	PasswordConfig config.PasswordConfig
	JWTConfig      config.JWTConfig
	Logger         *logger.Logger
	Now            func() time.Time
}

// NewService builds the identity service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repository required")
	}
	if params.Emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:          params.Tx,
		repo:        params.Repo,
		emitter:     params.Emitter,
		passwordCfg: params.PasswordConfig,
		jwtCfg:      params.JWTConfig,
		logg:        params.Logger,
		now:         now,
	}, nil
}

// Register creates a user and queues the user.registered announcement in the
// same transaction. Only admins may register accounts.
func (s *Service) Register(ctx context.Context, actorRole enums.UserRole, req RegisterRequest) (uuid.UUID, error) {
	if actorRole != enums.RoleAdmin {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can register users")
	}

	role, err := enums.ParseUserRole(req.Role)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid user role")
	}
	return s.registerUser(ctx, req.Name, req.Email, req.Password, role)
}

// RegisterAdmin creates an ADMIN account without an authenticated actor.
// Register requires an admin caller, so this is the only way a fresh
// deployment can mint its first administrator.
func (s *Service) RegisterAdmin(ctx context.Context, req RegisterAdminRequest) (uuid.UUID, error) {
	return s.registerUser(ctx, req.Name, req.Email, req.Password, enums.RoleAdmin)
}

func (s *Service) registerUser(ctx context.Context, name, reqEmail, password string, role enums.UserRole) (uuid.UUID, error) {
	email := strings.ToLower(strings.TrimSpace(reqEmail))
	if email == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	passwordHash, err := security.HashPassword(password, s.passwordCfg)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	user := &models.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.FindByEmailTx(tx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}

		if err := s.repo.CreateTx(tx, user); err != nil {
			return err
		}

		_, err := s.emitter.Emit(ctx, tx, events.TopicUserRegistered, events.UserRegistered{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			Role:      string(user.Role),
			Timestamp: s.now().UTC(),
		})
		return err
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_users_email") {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return uuid.Nil, typed
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register user")
	}

	s.logg.Info(s.logg.WithField(ctx, "user_id", user.ID.String()), "user registered")
	return user.ID, nil
}

// Login verifies the credentials and mints an access token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find user")
	}

	ok, err := security.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
	}

	token, err := auth.MintAccessToken(s.jwtCfg, s.now(), auth.AccessTokenPayload{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint token")
	}

	return &LoginResult{Token: token, User: user}, nil
}

// UpdatePassword re-hashes and stores a new password for the caller.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, req UpdatePasswordRequest) error {
	passwordHash, err := security.HashPassword(req.NewPassword, s.passwordCfg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	affected, err := s.repo.UpdatePasswordHash(ctx, userID, passwordHash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update password")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return nil
}
