package outbox

import (
	"errors"

	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
)

// DLQRepository persists terminal publish failures.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry *models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(entry).Error
}

func (r *DLQRepository) List(limit int) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
