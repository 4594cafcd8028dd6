package models

import (
	"time"

	"github.com/google/uuid"
)

// Staff is the workforce record for an employed user.
type Staff struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_staffs_user"`
	PositionID uuid.UUID  `gorm:"column:position_id;type:uuid;not null"`
	Name       string     `gorm:"type:text;not null"`
	PhoneNo    *string    `gorm:"column:phone_no;type:varchar(20)"`
	FileID     *uuid.UUID `gorm:"column:file_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	ModifiedAt time.Time  `gorm:"column:modified_at;autoUpdateTime"`
	ModifiedBy *string    `gorm:"column:modified_by;type:varchar(50)"`
}

// Position is a job title referenced by staff records.
type Position struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// StaffFile holds an uploaded profile photo blob.
type StaffFile struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Filename  string    `gorm:"type:text;not null"`
	Content   []byte    `gorm:"type:bytea;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
