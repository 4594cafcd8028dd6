package projection

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/enums"
)

// ErrUserRefNotFound reports a lookup for a user id this service has not
// projected yet.
var ErrUserRefNotFound = errors.New("user ref not found")

// UserRefs maintains the local projection of identity-owned users. Both
// apply operations are idempotent so redeliveries and replays converge on
// the same state.
type UserRefs struct {
	db *gorm.DB
}

func NewUserRefs(db *gorm.DB) *UserRefs {
	return &UserRefs{db: db}
}

// UpsertTx inserts or refreshes a projected user inside the caller's
// transaction. The id comes from the owning service, never generated here.
func (r *UserRefs) UpsertTx(tx *gorm.DB, ref *models.UserRef) error {
	if ref.ID == uuid.Nil {
		return errors.New("user ref id is required")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role"}),
	}).Create(ref).Error
}

// DeleteTx removes a projected user. Deleting an absent row is a no-op.
func (r *UserRefs) DeleteTx(tx *gorm.DB, userID uuid.UUID) error {
	return tx.Where("id = ?", userID).Delete(&models.UserRef{}).Error
}

// GetByID returns one projected user.
func (r *UserRefs) GetByID(ctx context.Context, userID uuid.UUID) (*models.UserRef, error) {
	var ref models.UserRef
	err := r.db.WithContext(ctx).First(&ref, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserRefNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// ListAdminsTx returns every projected admin inside the caller's transaction,
// ordered by id so dependent writes are deterministic.
func (r *UserRefs) ListAdminsTx(tx *gorm.DB) ([]models.UserRef, error) {
	var refs []models.UserRef
	err := tx.
		Where("role = ?", enums.RoleAdmin).
		Order("id ASC").
		Find(&refs).Error
	return refs, err
}
