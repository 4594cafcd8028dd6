package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
)

type fakeStore struct {
	keys   map[string]string
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: make(map[string]string)}
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	value, ok := s.keys[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (s *fakeStore) IdempotencyKey(scope, id string) string {
	return "att:idempotency:" + scope + ":" + id
}

type fakeParker struct {
	parked []*models.ParkedMessage
}

func (p *fakeParker) Park(ctx context.Context, parked *models.ParkedMessage) error {
	p.parked = append(p.parked, parked)
	return nil
}

type handlerCall struct {
	envelope events.Envelope
	payload  any
}

func newTestConsumer(t *testing.T, store *fakeStore, parker *fakeParker, handler Handler) *Consumer {
	t.Helper()

	registry, err := events.NewRegistry(config.PubSubConfig{
		UserRegisteredTopic: "user-registered",
		UserDeletedTopic:    "user-deleted",
		StaffChangedTopic:   "notification-push",
	})
	require.NoError(t, err)

	manager, err := NewIdempotencyManager(store, time.Hour)
	require.NoError(t, err)

	return &Consumer{
		name:        "test.consumer",
		registry:    registry,
		idempotency: manager,
		parker:      parker,
		handler:     handler,
		logg:        logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")}),
	}
}

func deliveredMessage(t *testing.T, messageID uuid.UUID, topic string, payload any) *pubsub.Message {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(events.Envelope{MessageID: messageID, Topic: topic, Message: body})
	require.NoError(t, err)
	return &pubsub.Message{Data: data}
}

func TestProcess_appliesAndAcks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}

	var calls []handlerCall
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		calls = append(calls, handlerCall{envelope: envelope, payload: payload})
		return nil
	})

	messageID := uuid.New()
	userID := uuid.New()
	msg := deliveredMessage(t, messageID, events.TopicUserDeleted, events.UserDeleted{UserID: userID})

	result := c.process(context.Background(), msg)
	assert.True(t, result.ack)
	assert.False(t, result.nack)

	require.Len(t, calls, 1)
	assert.Equal(t, messageID, calls[0].envelope.MessageID)
	deleted, ok := calls[0].payload.(*events.UserDeleted)
	require.True(t, ok)
	assert.Equal(t, userID, deleted.UserID)
	assert.Empty(t, parker.parked)
}

func TestProcess_duplicateDeliverySkipsHandler(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}

	handled := 0
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		handled++
		return nil
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	first := c.process(context.Background(), msg)
	assert.True(t, first.ack)

	second := c.process(context.Background(), msg)
	assert.True(t, second.ack)
	assert.Equal(t, 1, handled)
}

func TestProcess_corruptEnvelopeParks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		t.Fatal("handler must not run")
		return nil
	})

	result := c.process(context.Background(), &pubsub.Message{Data: []byte("not json")})
	assert.True(t, result.ack)
	require.Len(t, parker.parked, 1)
	assert.Nil(t, parker.parked[0].MessageID)
}

func TestProcess_missingMessageIDParks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		t.Fatal("handler must not run")
		return nil
	})

	data, err := json.Marshal(events.Envelope{Topic: events.TopicUserDeleted, Message: []byte(`{}`)})
	require.NoError(t, err)

	result := c.process(context.Background(), &pubsub.Message{Data: data})
	assert.True(t, result.ack)
	require.Len(t, parker.parked, 1)
	assert.Equal(t, events.TopicUserDeleted, parker.parked[0].Topic)
}

func TestProcess_unknownTopicParks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		t.Fatal("handler must not run")
		return nil
	})

	messageID := uuid.New()
	msg := deliveredMessage(t, messageID, "made.up", map[string]string{})

	result := c.process(context.Background(), msg)
	assert.True(t, result.ack)
	require.Len(t, parker.parked, 1)
	require.NotNil(t, parker.parked[0].MessageID)
	assert.Equal(t, messageID.String(), *parker.parked[0].MessageID)
}

func TestProcess_alreadyAppliedAcks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		return inbox.ErrAlreadyApplied
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	result := c.process(context.Background(), msg)
	assert.True(t, result.ack)
	assert.Empty(t, parker.parked)
}

func TestProcess_nonRetryableHandlerErrorParks(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		return events.NewNonRetryableError(errors.New("bad payload semantics"))
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	result := c.process(context.Background(), msg)
	assert.True(t, result.ack)
	require.Len(t, parker.parked, 1)
}

func TestProcess_transientHandlerErrorNacksWithoutMark(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}

	attempts := 0
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		attempts++
		if attempts == 1 {
			return errors.New("database briefly away")
		}
		return nil
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	first := c.process(context.Background(), msg)
	assert.True(t, first.nack)
	assert.Empty(t, parker.parked)
	// The failed attempt must leave no mark behind.
	assert.Empty(t, store.keys)

	second := c.process(context.Background(), msg)
	assert.True(t, second.ack)
	assert.Equal(t, 2, attempts)
}

func TestProcess_markWrittenOnlyAfterHandlerSucceeds(t *testing.T) {
	store := newFakeStore()
	parker := &fakeParker{}

	var marksDuringHandler int
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		marksDuringHandler = len(store.keys)
		return nil
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	result := c.process(context.Background(), msg)
	assert.True(t, result.ack)

	// A crash while the handler runs must leave the delivery retryable, so
	// the mark may only appear after the domain effect committed.
	assert.Zero(t, marksDuringHandler)
	assert.Len(t, store.keys, 1)
}

func TestProcess_idempotencyFailureNacks(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("redis away")
	parker := &fakeParker{}
	c := newTestConsumer(t, store, parker, func(ctx context.Context, envelope events.Envelope, payload any) error {
		t.Fatal("handler must not run")
		return nil
	})

	msg := deliveredMessage(t, uuid.New(), events.TopicUserDeleted, events.UserDeleted{UserID: uuid.New()})

	result := c.process(context.Background(), msg)
	assert.True(t, result.nack)
}
