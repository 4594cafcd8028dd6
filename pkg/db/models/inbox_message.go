package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InboxMessage records an envelope this service has already applied. The
// unique index on message_id is the sole idempotency gate: a delivery whose
// message id is present here is never applied to domain state again.
type InboxMessage struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID  uuid.UUID       `gorm:"column:message_id;type:uuid;not null;uniqueIndex:ux_inbox_messages_message_id"`
	Topic      string          `gorm:"column:topic;type:varchar(255);not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ReceivedAt time.Time       `gorm:"column:received_at;autoCreateTime"`
}

// ParkedMessage is a consumer-side dead letter: a delivery with a corrupt
// envelope or an unknown topic that must be acked rather than retried
// forever.
type ParkedMessage struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID *string   `gorm:"column:message_id;type:varchar(255)"`
	Topic     string    `gorm:"column:topic;type:varchar(255);not null"`
	Payload   []byte    `gorm:"column:payload;type:bytea"`
	Reason    string    `gorm:"column:reason;type:text;not null"`
	ParkedAt  time.Time `gorm:"column:parked_at;autoCreateTime"`
}
