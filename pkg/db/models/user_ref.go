package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/attendly/backend/pkg/enums"
)

// UserRef is the local, read-only projection of an identity-owned user kept
// by the workforce and notifications services. The primary key is assigned by
// the identity service, never generated locally, so projections share ids
// with the owner.
type UserRef struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Name      string         `gorm:"type:text;not null"`
	Email     string         `gorm:"type:text;not null"`
	Role      enums.UserRole `gorm:"type:user_role;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the projection under the same table name the owning
// service uses, mirroring the shared-id convention.
func (UserRef) TableName() string {
	return "user_refs"
}
