package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is an append-only row written in the same transaction as the
// domain mutation that produced it. The row id doubles as the wire-level
// message id: it is generated once here and stays stable across every
// redelivery attempt.
type OutboxEvent struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Topic        string          `gorm:"column:topic;type:varchar(255);not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	OrderingKey  string          `gorm:"column:ordering_key;type:varchar(255);not null;default:''"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	PublishedAt  *time.Time      `gorm:"column:published_at"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
}

// OutboxDLQ captures outbox rows that exhausted their publish attempts or
// failed non-retryably. Rows are kept for auditing and manual replay.
type OutboxDLQ struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID    uuid.UUID       `gorm:"column:message_id;type:uuid;not null"`
	Topic        string          `gorm:"column:topic;type:varchar(255);not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ErrorMessage *string         `gorm:"column:error_message"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time       `gorm:"column:failed_at;autoCreateTime"`
}
