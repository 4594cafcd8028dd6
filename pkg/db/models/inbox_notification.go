package models

import (
	"time"

	"github.com/google/uuid"
)

// InboxNotification is an admin-facing inbox entry produced by the staff
// update fan-out. Distinct from InboxMessage, which is the consumer-side
// dedup ledger.
type InboxNotification struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RecipientID uuid.UUID `gorm:"column:recipient_id;type:uuid;not null;index:ix_inbox_notifications_recipient"`
	SenderID    uuid.UUID `gorm:"column:sender_id;type:uuid;not null"`
	Title       string    `gorm:"type:text;not null"`
	Content     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
