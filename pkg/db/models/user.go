package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/attendly/backend/pkg/enums"
)

// User is the canonical identity entity, owned by the identity service.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string         `gorm:"type:text;not null"`
	Email        string         `gorm:"type:text;not null;uniqueIndex:ux_users_email"`
	Role         enums.UserRole `gorm:"type:user_role;not null;default:USER"`
	PasswordHash string         `gorm:"column:password_hash;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	ModifiedAt   time.Time      `gorm:"column:modified_at;autoUpdateTime"`
}
