package outbox

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/logger"
)

// Emitter records domain events in the outbox table. Emit must be called
// inside the same transaction as the domain mutation that produced the
// event; the relay publishes committed rows asynchronously.
type Emitter struct {
	registry *events.Registry
	logg     *logger.Logger
}

func NewEmitter(registry *events.Registry, logg *logger.Logger) (*Emitter, error) {
	if registry == nil {
		return nil, errors.New("event registry is required")
	}
	return &Emitter{registry: registry, logg: logg}, nil
}

// Emit serializes the payload, inserts the outbox row in tx and returns the
// generated message id. The id is stable for the lifetime of the event:
// every broker delivery of this event carries it.
func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, topic string, payload any) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	desc, ok := e.registry.Lookup(topic)
	if !ok {
		return uuid.Nil, errors.New("unknown topic " + topic)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}

	row := models.OutboxEvent{
		ID:          uuid.New(),
		Topic:       topic,
		Payload:     body,
		OrderingKey: desc.OrderingKey(payload),
	}
	if err := tx.Create(&row).Error; err != nil {
		return uuid.Nil, err
	}

	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"message_id": row.ID.String(),
			"topic":      topic,
		})
		e.logg.Info(logCtx, "outbox event queued")
	}
	return row.ID, nil
}
