package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/attendly/backend/pkg/redis"
)

// IdempotencyManager tracks processed message IDs per consumer in Redis with
// a TTL. It is a fast path in front of the inbox ledger; the ledger stays
// authoritative when Redis forgets or fails over. The mark is written only
// after the domain effect commits, so a crash mid-handler leaves no mark and
// the redelivery reaches the handler again.
// Keys follow the `att:idempotency:msg:processed:<consumer>:<message_id>`
// pattern.
type IdempotencyManager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyManager builds a dedup guard that marks messages as
// processed for the given TTL.
func NewIdempotencyManager(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyManager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyManager{
		store: store,
		ttl:   ttl,
	}, nil
}

// IsProcessed reports whether the message already carries a processed mark.
// The check never writes, so a delivery that dies before its ledger commit
// leaves nothing behind to swallow the redelivery.
func (m *IdempotencyManager) IsProcessed(ctx context.Context, consumer string, messageID uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, messageID)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records the mark with the configured TTL once the domain
// effect has committed.
func (m *IdempotencyManager) MarkProcessed(ctx context.Context, consumer string, messageID uuid.UUID) error {
	key, err := m.processedKey(consumer, messageID)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, key, "1", m.ttl)
	return err
}

func (m *IdempotencyManager) processedKey(consumer string, messageID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if messageID == uuid.Nil {
		return "", errors.New("message id is required")
	}
	scope := fmt.Sprintf("msg:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, messageID.String()), nil
}
