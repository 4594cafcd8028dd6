package identity

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
)

// Repository exposes user persistence for the identity service.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx inserts a new user inside the caller's transaction.
func (r *Repository) CreateTx(tx *gorm.DB, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return tx.Create(user).Error
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmailTx retrieves the user matching the email inside a transaction.
func (r *Repository) FindByEmailTx(tx *gorm.DB, email string) (*models.User, error) {
	var user models.User
	if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePasswordHash overwrites the stored hash for the user.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash)
	return result.RowsAffected, result.Error
}

// DeleteTx removes a user row. Deleting an absent row affects zero rows and
// is not an error, which keeps the user.deleted consumer idempotent.
func (r *Repository) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Where("id = ?", id).Delete(&models.User{}).Error
}
