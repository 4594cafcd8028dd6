package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendance is one clock-in/clock-out cycle for a staff member on a single
// calendar day. The unique index on (staff_id, attendance_date) is the
// authoritative guard against concurrent clock-ins; the application-level
// existence check only produces a friendlier error.
type Attendance struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StaffID        uuid.UUID  `gorm:"column:staff_id;type:uuid;not null;uniqueIndex:ux_attendances_staff_day"`
	AttendanceDate time.Time  `gorm:"column:attendance_date;type:timestamptz;not null;uniqueIndex:ux_attendances_staff_day"`
	ClockIn        *time.Time `gorm:"column:clock_in;type:timestamptz"`
	ClockOut       *time.Time `gorm:"column:clock_out;type:timestamptz"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}
