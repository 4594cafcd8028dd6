package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics are flat string names shared by every service. The broker maps each
// to a Pub/Sub topic resource via configuration.
const (
	TopicUserRegistered = "user.registered"
	TopicUserDeleted    = "user.deleted"
	TopicStaffChanged   = "notification.push"
)

// Envelope is the wire-level message shape. MessageID is generated once when
// the outbox row is written and is stable across redelivery attempts.
type Envelope struct {
	MessageID uuid.UUID       `json:"messageId"`
	Topic     string          `json:"topic"`
	Message   json.RawMessage `json:"message"`
}

// UserRegistered announces a new identity-owned user. Consumed by workforce
// and notifications to create their local user projections.
type UserRegistered struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// UserDeleted propagates a user removal. Emitted by the workforce service
// from its staff-deletion cascade; identity and notifications drop the user
// row in response and never re-emit the topic.
type UserDeleted struct {
	UserID    uuid.UUID `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// StaffChanged triggers the admin inbox fan-out after a staff update.
type StaffChanged struct {
	StaffUserID uuid.UUID `json:"staffUserId"`
	StaffName   string    `json:"staffName"`
	Changes     []string  `json:"changes"`
	Timestamp   time.Time `json:"timestamp"`
}
