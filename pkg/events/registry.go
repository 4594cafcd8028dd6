package events

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/db/models"
)

// Descriptor binds a topic to its Pub/Sub resource, payload schema and
// ordering key. Per-key ordering is the only cross-delivery ordering the
// system assumes, so every topic must name a key extractor.
type Descriptor struct {
	Topic          string
	BrokerTopic    string
	PayloadFactory func() any
	OrderingKey    func(payload any) string
}

// ResolvedEvent is a decoded outbox row ready for publishing.
type ResolvedEvent struct {
	Descriptor Descriptor
	Envelope   Envelope
	Payload    any
}

// NonRetryableError signals the relay should park a row instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// Registry maps each supported topic to its descriptor so producers and
// consumers handle the event set exhaustively and park unknown topics.
type Registry struct {
	entries map[string]Descriptor
}

// NewRegistry builds the registry with the configured broker topic names.
func NewRegistry(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.UserRegisteredTopic == "" {
		return nil, fmt.Errorf("user registered topic is required")
	}
	if cfg.UserDeletedTopic == "" {
		return nil, fmt.Errorf("user deleted topic is required")
	}
	if cfg.StaffChangedTopic == "" {
		return nil, fmt.Errorf("staff changed topic is required")
	}

	reg := &Registry{entries: make(map[string]Descriptor)}
	for _, desc := range []Descriptor{
		{
			Topic:          TopicUserRegistered,
			BrokerTopic:    cfg.UserRegisteredTopic,
			PayloadFactory: func() any { return &UserRegistered{} },
			OrderingKey: func(payload any) string {
				switch p := payload.(type) {
				case *UserRegistered:
					return p.ID.String()
				case UserRegistered:
					return p.ID.String()
				}
				return ""
			},
		},
		{
			Topic:          TopicUserDeleted,
			BrokerTopic:    cfg.UserDeletedTopic,
			PayloadFactory: func() any { return &UserDeleted{} },
			OrderingKey: func(payload any) string {
				switch p := payload.(type) {
				case *UserDeleted:
					return p.UserID.String()
				case UserDeleted:
					return p.UserID.String()
				}
				return ""
			},
		},
		{
			Topic:          TopicStaffChanged,
			BrokerTopic:    cfg.StaffChangedTopic,
			PayloadFactory: func() any { return &StaffChanged{} },
			OrderingKey: func(payload any) string {
				switch p := payload.(type) {
				case *StaffChanged:
					return p.StaffUserID.String()
				case StaffChanged:
					return p.StaffUserID.String()
				}
				return ""
			},
		},
	} {
		reg.entries[desc.Topic] = desc
	}
	return reg, nil
}

// Lookup returns the descriptor for a flat topic name.
func (r *Registry) Lookup(topic string) (Descriptor, bool) {
	desc, ok := r.entries[topic]
	return desc, ok
}

// Resolve validates an outbox row and decodes its typed payload.
func (r *Registry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.Topic]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported topic %s", event.Topic))
	}

	trimmed := bytes.TrimSpace(event.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.Topic))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(event.Payload, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.Topic, err))
	}

	envelope := Envelope{
		MessageID: event.ID,
		Topic:     event.Topic,
		Message:   event.Payload,
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// Decode parses a typed payload out of a delivered envelope.
func (r *Registry) Decode(envelope Envelope) (any, error) {
	desc, ok := r.entries[envelope.Topic]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported topic %s", envelope.Topic))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Message, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", envelope.Topic, err))
	}
	return payload, nil
}
