package workforce

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/db/models"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/logger"
)

// AttendanceService implements the daily clock-in/clock-out state machine.
// Each staff member gets at most one attendance row per calendar day; the
// row moves clocked-in -> clocked-out and never back.
type AttendanceService struct {
	staff       *StaffRepository
	attendances *AttendanceRepository
	logg        *logger.Logger
	now         func() time.Time
}

// NewAttendanceService builds the attendance service.
func NewAttendanceService(staff *StaffRepository, attendances *AttendanceRepository, logg *logger.Logger, now func() time.Time) (*AttendanceService, error) {
	if staff == nil || attendances == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if now == nil {
		now = time.Now
	}
	return &AttendanceService{
		staff:       staff,
		attendances: attendances,
		logg:        logg,
		now:         now,
	}, nil
}

// startOfDay truncates a timestamp to its calendar day in its location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ClockIn opens today's attendance for the caller's staff record. A second
// clock-in on the same day is a state conflict: the application check gives
// the friendly error, the unique index on (staff_id, attendance_date) is
// the authoritative guard under concurrency.
func (s *AttendanceService) ClockIn(ctx context.Context, userID uuid.UUID) (*models.Attendance, error) {
	staff, err := s.resolveStaff(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	day := startOfDay(now)

	if _, err := s.attendances.FindForDay(ctx, staff.ID, day); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "already clocked in today")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check attendance")
	}

	attendance := &models.Attendance{
		StaffID:        staff.ID,
		AttendanceDate: day,
		ClockIn:        &now,
	}
	if err := s.attendances.Create(ctx, attendance); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_attendances_staff_day") {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "already clocked in today")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create attendance")
	}

	s.logg.Info(s.logg.WithField(ctx, "staff_id", staff.ID.String()), "staff clocked in")
	return attendance, nil
}

// ClockOut closes today's attendance. The guarded update writes clock_out
// only while it is NULL, so the field is immutable once set even under
// concurrent requests.
func (s *AttendanceService) ClockOut(ctx context.Context, userID uuid.UUID) (*models.Attendance, error) {
	staff, err := s.resolveStaff(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	day := startOfDay(now)

	attendance, err := s.attendances.FindForDay(ctx, staff.ID, day)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "not clocked in today")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find attendance")
	}
	if attendance.ClockOut != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "already clocked out today")
	}

	affected, err := s.attendances.SetClockOut(ctx, attendance.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set clock out")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "already clocked out today")
	}

	attendance.ClockOut = &now
	s.logg.Info(s.logg.WithField(ctx, "staff_id", staff.ID.String()), "staff clocked out")
	return attendance, nil
}

// FindMyAttendances lists the caller's attendances in [from, to). Each bound
// falls back independently: from defaults to the first of the current month,
// to defaults to one month after from.
func (s *AttendanceService) FindMyAttendances(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]models.Attendance, error) {
	staff, err := s.resolveStaff(ctx, userID)
	if err != nil {
		return nil, err
	}

	start, end := s.resolveRange(from, to)
	if !end.After(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date range is empty")
	}

	attendances, err := s.attendances.FindRange(ctx, staff.ID, start, end)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list attendances")
	}
	return attendances, nil
}

func (s *AttendanceService) resolveRange(from, to *time.Time) (time.Time, time.Time) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if from != nil {
		start = startOfDay(*from)
	}
	end := start.AddDate(0, 1, 0)
	if to != nil {
		end = startOfDay(*to).AddDate(0, 0, 1)
	}
	return start, end
}

// FindAllAttendances lists every staff member's attendances for admins.
func (s *AttendanceService) FindAllAttendances(ctx context.Context) ([]AttendanceRow, error) {
	rows, err := s.attendances.FindAllWithStaff(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list attendances")
	}
	return rows, nil
}

func (s *AttendanceService) resolveStaff(ctx context.Context, userID uuid.UUID) (*models.Staff, error) {
	staff, err := s.staff.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "staff record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve staff")
	}
	return staff, nil
}
