package workforce

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/enums"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/outbox"
	"github.com/attendly/backend/pkg/projection"
)

// TxRunner abstracts db.Client.WithTx for testing.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Actor identifies the authenticated caller for permission checks.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// CreateStaffRequest onboards a projected user as staff.
type CreateStaffRequest struct {
	UserID     uuid.UUID  `json:"user_id" validate:"required"`
	PositionID uuid.UUID  `json:"position_id" validate:"required"`
	Name       string     `json:"name" validate:"required"`
	PhoneNo    *string    `json:"phone_no,omitempty" validate:"omitempty,max=20"`
	FileID     *uuid.UUID `json:"file_id,omitempty"`
}

// UpdateStaffRequest carries partial staff changes. Nil fields are left
// untouched; the names of fields that actually changed feed the
// notification.push payload.
type UpdateStaffRequest struct {
	Name       *string    `json:"name,omitempty"`
	PhoneNo    *string    `json:"phone_no,omitempty" validate:"omitempty,max=20"`
	PositionID *uuid.UUID `json:"position_id,omitempty"`
	FileID     *uuid.UUID `json:"file_id,omitempty"`
}

// StaffService implements staff management.
type StaffService struct {
	tx       TxRunner
	staff    *StaffRepository
	position *PositionRepository
	files    *FileRepository
	userRefs *projection.UserRefs
	emitter  *outbox.Emitter
	logg     *logger.Logger
	now      func() time.Time
}

// StaffServiceParams packages the staff service dependencies.
type StaffServiceParams struct {
	Tx        TxRunner
	Staff     *StaffRepository
	Positions *PositionRepository
	Files     *FileRepository
	UserRefs  *projection.UserRefs
	Emitter   *outbox.Emitter
	Logger    *logger.Logger
	Now       func() time.Time
}

// NewStaffService builds the staff service.
func NewStaffService(params StaffServiceParams) (*StaffService, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Staff == nil || params.Positions == nil || params.Files == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if params.UserRefs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user refs repository required")
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
	return &StaffService{
		tx:       params.Tx,
		staff:    params.Staff,
		position: params.Positions,
		files:    params.Files,
		userRefs: params.UserRefs,
		emitter:  params.Emitter,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// CreateStaff registers a projected user as staff. Admin only.
func (s *StaffService) CreateStaff(ctx context.Context, actor Actor, req CreateStaffRequest) (*models.Staff, error) {
	if actor.Role != enums.RoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can create staff")
	}
	if _, err := s.position.FindByID(ctx, req.PositionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "position not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check position")
	}

	staff := &models.Staff{
		UserID:     req.UserID,
		PositionID: req.PositionID,
		Name:       strings.TrimSpace(req.Name),
		PhoneNo:    req.PhoneNo,
		FileID:     req.FileID,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.staff.CreateTx(tx, staff)
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_staffs_user") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "user is already staff")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create staff")
	}
	return staff, nil
}

// FindAllStaff lists staff with an optional keyword filter.
func (s *StaffService) FindAllStaff(ctx context.Context, keyword string) ([]StaffRow, error) {
	rows, err := s.staff.FindAll(ctx, keyword)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list staff")
	}
	return rows, nil
}

// FindOneStaff loads the staff record owned by a user.
func (s *StaffService) FindOneStaff(ctx context.Context, userID uuid.UUID) (*models.Staff, error) {
	staff, err := s.staff.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "staff not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find staff")
	}
	return staff, nil
}

// UpdateStaff applies partial changes to a staff record and queues the staff
// change announcement in the same transaction. Staff may update their own
// record; admins may update anyone's.
func (s *StaffService) UpdateStaff(ctx context.Context, actor Actor, staffID uuid.UUID, req UpdateStaffRequest) (*models.Staff, error) {
	var updated *models.Staff
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		staff, err := s.staff.FindByIDTx(tx, staffID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "staff not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find staff")
		}
		if actor.Role != enums.RoleAdmin && actor.UserID != staff.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot update another staff record")
		}

		changes := applyStaffChanges(staff, req)
		if len(changes) == 0 {
			updated = staff
			return nil
		}

		if err := s.staff.SaveTx(tx, staff); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save staff")
		}

		if _, err := s.emitter.Emit(ctx, tx, events.TopicStaffChanged, events.StaffChanged{
			StaffUserID: staff.UserID,
			StaffName:   staff.Name,
			Changes:     changes,
			Timestamp:   s.now().UTC(),
		}); err != nil {
			return err
		}

		updated = staff
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update staff")
	}
	return updated, nil
}

func applyStaffChanges(staff *models.Staff, req UpdateStaffRequest) []string {
	var changes []string
	if req.Name != nil && strings.TrimSpace(*req.Name) != staff.Name {
		staff.Name = strings.TrimSpace(*req.Name)
		changes = append(changes, "name")
	}
	if req.PhoneNo != nil && !equalStringPtr(req.PhoneNo, staff.PhoneNo) {
		staff.PhoneNo = req.PhoneNo
		changes = append(changes, "phoneNo")
	}
	if req.PositionID != nil && *req.PositionID != staff.PositionID {
		staff.PositionID = *req.PositionID
		changes = append(changes, "positionId")
	}
	if req.FileID != nil && !equalUUIDPtr(req.FileID, staff.FileID) {
		staff.FileID = req.FileID
		changes = append(changes, "fileId")
	}
	return changes
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalUUIDPtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DeleteStaff removes a staff record, drops the local user projection and
// queues user.deleted for the other services, all in one transaction. Admin
// only.
func (s *StaffService) DeleteStaff(ctx context.Context, actor Actor, staffID uuid.UUID) error {
	if actor.Role != enums.RoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only admins can delete staff")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		staff, err := s.staff.FindByIDTx(tx, staffID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "staff not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find staff")
		}

		if err := s.staff.DeleteTx(tx, staff.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete staff")
		}
		if err := s.userRefs.DeleteTx(tx, staff.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete user projection")
		}

		_, err = s.emitter.Emit(ctx, tx, events.TopicUserDeleted, events.UserDeleted{
			UserID:    staff.UserID,
			Timestamp: s.now().UTC(),
		})
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete staff")
	}
	return nil
}

// FindAllPositions lists positions with an optional keyword filter.
func (s *StaffService) FindAllPositions(ctx context.Context, keyword string) ([]models.Position, error) {
	positions, err := s.position.FindAll(ctx, keyword)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list positions")
	}
	return positions, nil
}

// SaveFile stores an uploaded profile photo and returns its id.
func (s *StaffService) SaveFile(ctx context.Context, filename string, content []byte) (uuid.UUID, error) {
	if strings.TrimSpace(filename) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "filename is required")
	}
	if len(content) == 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "file content is required")
	}
	file := &models.StaffFile{Filename: filename, Content: content}
	if err := s.files.Save(ctx, file); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save file")
	}
	return file.ID, nil
}
