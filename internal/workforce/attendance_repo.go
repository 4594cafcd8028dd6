package workforce

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
)

// AttendanceRow is an attendance record joined with the staff name, used by
// the admin-facing listing.
type AttendanceRow struct {
	ID             uuid.UUID  `json:"id"`
	StaffID        uuid.UUID  `json:"staff_id"`
	StaffName      string     `json:"staff_name"`
	AttendanceDate time.Time  `json:"attendance_date"`
	ClockIn        *time.Time `json:"clock_in,omitempty"`
	ClockOut       *time.Time `json:"clock_out,omitempty"`
}

// AttendanceRepository exposes attendance persistence.
type AttendanceRepository struct {
	db *gorm.DB
}

func NewAttendanceRepository(db *gorm.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts a new attendance row. The unique index on
// (staff_id, attendance_date) rejects a second clock-in for the same day.
func (r *AttendanceRepository) Create(ctx context.Context, attendance *models.Attendance) error {
	if attendance.ID == uuid.Nil {
		attendance.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attendance).Error
}

// FindForDay returns the attendance row for the staff member on the given
// day, or gorm.ErrRecordNotFound.
func (r *AttendanceRepository) FindForDay(ctx context.Context, staffID uuid.UUID, day time.Time) (*models.Attendance, error) {
	var attendance models.Attendance
	err := r.db.WithContext(ctx).
		Where("staff_id = ? AND attendance_date = ?", staffID, day).
		First(&attendance).Error
	if err != nil {
		return nil, err
	}
	return &attendance, nil
}

// SetClockOut stamps the clock-out time only when it is still unset, so the
// first write wins and the field stays immutable under races.
func (r *AttendanceRepository) SetClockOut(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Attendance{}).
		Where("id = ? AND clock_out IS NULL", id).
		UpdateColumn("clock_out", at)
	return result.RowsAffected, result.Error
}

// FindRange lists a staff member's attendances inside [from, to), newest
// first.
func (r *AttendanceRepository) FindRange(ctx context.Context, staffID uuid.UUID, from, to time.Time) ([]models.Attendance, error) {
	var attendances []models.Attendance
	err := r.db.WithContext(ctx).
		Where("staff_id = ? AND attendance_date >= ? AND attendance_date < ?", staffID, from, to).
		Order("attendance_date DESC").
		Find(&attendances).Error
	return attendances, err
}

// FindAllWithStaff lists every attendance joined with staff names, newest
// first.
func (r *AttendanceRepository) FindAllWithStaff(ctx context.Context) ([]AttendanceRow, error) {
	var rows []AttendanceRow
	err := r.db.WithContext(ctx).
		Table("attendances").
		Select(`attendances.id, attendances.staff_id, staffs.name AS staff_name,
			attendances.attendance_date, attendances.clock_in, attendances.clock_out`).
		Joins("JOIN staffs ON staffs.id = attendances.staff_id").
		Order("attendances.attendance_date DESC").
		Scan(&rows).Error
	return rows, err
}
