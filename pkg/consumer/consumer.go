package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/metrics"
)

// Handler applies one decoded event. Returning inbox.ErrAlreadyApplied acks
// the delivery without treating it as a failure.
type Handler func(ctx context.Context, envelope events.Envelope, payload any) error

// Parker persists poison messages so they stop being redelivered.
type Parker interface {
	Park(ctx context.Context, parked *models.ParkedMessage) error
}

// Consumer drains one subscription, deduplicates deliveries and dispatches
// decoded payloads to a handler.
type Consumer struct {
	name         string
	subscription *pubsub.Subscriber
	registry     *events.Registry
	idempotency  *IdempotencyManager
	parker       Parker
	handler      Handler
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

// New builds a consumer bound to a single subscription.
func New(name string, subscription *pubsub.Subscriber, registry *events.Registry, manager *IdempotencyManager, parker Parker, handler Handler, consumerMetrics *metrics.ConsumerMetrics, logg *logger.Logger) (*Consumer, error) {
	if name == "" {
		return nil, fmt.Errorf("consumer name required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("subscription required")
	}
	if registry == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if parker == nil {
		return nil, fmt.Errorf("parker required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		name:         name,
		subscription: subscription,
		registry:     registry,
		idempotency:  manager,
		parker:       parker,
		handler:      handler,
		metrics:      consumerMetrics,
		logg:         logg,
	}, nil
}

// Run starts the receive loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	started := time.Now()
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"consumer":    c.name,
		"delivery_id": msg.ID,
	})

	var envelope events.Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		c.park(ctx, logCtx, nil, "", msg.Data, fmt.Sprintf("decode envelope: %v", err))
		return processResult{ack: true}
	}
	if envelope.MessageID == uuid.Nil {
		c.logg.Error(logCtx, "envelope missing message id", nil)
		c.park(ctx, logCtx, nil, envelope.Topic, msg.Data, "missing message id")
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"message_id": envelope.MessageID.String(),
		"topic":      envelope.Topic,
	})

	already, err := c.idempotency.IsProcessed(ctx, c.name, envelope.MessageID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "message already processed")
		c.metrics.IncProcessed(c.name, metrics.OutcomeDuplicate)
		return processResult{ack: true}
	}

	payload, err := c.registry.Decode(envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		c.park(ctx, logCtx, &envelope.MessageID, envelope.Topic, msg.Data, err.Error())
		return processResult{ack: true}
	}

	if err := c.handler(ctx, envelope, payload); err != nil {
		if errors.Is(err, inbox.ErrAlreadyApplied) {
			c.logg.Info(logCtx, "message already applied to ledger")
			c.markProcessed(ctx, logCtx, envelope.MessageID)
			c.metrics.IncProcessed(c.name, metrics.OutcomeDuplicate)
			return processResult{ack: true}
		}
		var nonRetryable events.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Error(logCtx, "handler rejected message", err)
			c.park(ctx, logCtx, &envelope.MessageID, envelope.Topic, msg.Data, err.Error())
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "handler failed", err)
		c.metrics.IncProcessed(c.name, metrics.OutcomeRetried)
		return processResult{nack: true}
	}

	c.markProcessed(ctx, logCtx, envelope.MessageID)
	c.metrics.IncProcessed(c.name, metrics.OutcomeApplied)
	c.metrics.ObserveHandle(c.name, time.Since(started))
	return processResult{ack: true}
}

// markProcessed is best effort; the inbox ledger absorbs the duplicate if
// the mark is lost.
func (c *Consumer) markProcessed(ctx context.Context, logCtx context.Context, messageID uuid.UUID) {
	if err := c.idempotency.MarkProcessed(ctx, c.name, messageID); err != nil {
		c.logg.Warn(logCtx, "failed to record processed mark")
	}
}

func (c *Consumer) park(ctx context.Context, logCtx context.Context, messageID *uuid.UUID, topic string, raw []byte, reason string) {
	parked := &models.ParkedMessage{
		Topic:   topic,
		Payload: raw,
		Reason:  reason,
	}
	if messageID != nil {
		id := messageID.String()
		parked.MessageID = &id
	}
	if err := c.parker.Park(ctx, parked); err != nil {
		c.logg.Error(logCtx, "failed to park message", err)
		return
	}
	c.metrics.IncProcessed(c.name, metrics.OutcomeParked)
	c.logg.Warn(logCtx, "message parked")
}
