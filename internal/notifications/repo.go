package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
)

// Repository exposes inbox notification persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx inserts an inbox notification inside the caller's transaction.
func (r *Repository) CreateTx(tx *gorm.DB, notification *models.InboxNotification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	return tx.Create(notification).Error
}

// ListByRecipient returns a recipient's notifications, newest first.
func (r *Repository) ListByRecipient(ctx context.Context, recipientID uuid.UUID) ([]models.InboxNotification, error) {
	var notifications []models.InboxNotification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Find(&notifications).Error
	return notifications, err
}
