package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
)

func setupInboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:inbox_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	inboxMessages := `
CREATE TABLE IF NOT EXISTS inbox_messages (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL UNIQUE,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  received_at DATETIME
);`
	userRefs := `
CREATE TABLE IF NOT EXISTS user_refs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(inboxMessages).Error)
	require.NoError(t, db.Exec(userRefs).Error)
	return db
}

type txRunner struct {
	db *gorm.DB
}

func (r txRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func testEnvelope(t *testing.T) events.Envelope {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"name": "Dana"})
	require.NoError(t, err)
	return events.Envelope{
		MessageID: uuid.New(),
		Topic:     events.TopicUserRegistered,
		Message:   payload,
	}
}

func TestGuardApply_appliesOnce(t *testing.T) {
	db := setupInboxTestDB(t)
	guard, err := NewGuard(txRunner{db: db}, NewRepository(db))
	require.NoError(t, err)

	envelope := testEnvelope(t)
	refID := uuid.New()

	apply := func(tx *gorm.DB) error {
		return tx.Create(&models.UserRef{ID: refID, Name: "Dana", Email: "dana@example.com", Role: "USER"}).Error
	}

	require.NoError(t, guard.Apply(context.Background(), envelope, apply))

	err = guard.Apply(context.Background(), envelope, apply)
	require.ErrorIs(t, err, ErrAlreadyApplied)

	var refs int64
	require.NoError(t, db.Model(&models.UserRef{}).Where("id = ?", refID).Count(&refs).Error)
	assert.Equal(t, int64(1), refs)

	var ledger int64
	require.NoError(t, db.Model(&models.InboxMessage{}).Where("message_id = ?", envelope.MessageID).Count(&ledger).Error)
	assert.Equal(t, int64(1), ledger)
}

func TestGuardApply_rollsBackLedgerWithDomainEffect(t *testing.T) {
	db := setupInboxTestDB(t)
	guard, err := NewGuard(txRunner{db: db}, NewRepository(db))
	require.NoError(t, err)

	envelope := testEnvelope(t)
	boom := errors.New("boom")

	err = guard.Apply(context.Background(), envelope, func(tx *gorm.DB) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	var ledger int64
	require.NoError(t, db.Model(&models.InboxMessage{}).Where("message_id = ?", envelope.MessageID).Count(&ledger).Error)
	assert.Zero(t, ledger)

	// The failed attempt left no trace, so a retry of the same envelope works.
	require.NoError(t, guard.Apply(context.Background(), envelope, func(tx *gorm.DB) error {
		return nil
	}))
}

func TestGuardApply_requiresMessageID(t *testing.T) {
	db := setupInboxTestDB(t)
	guard, err := NewGuard(txRunner{db: db}, NewRepository(db))
	require.NoError(t, err)

	envelope := testEnvelope(t)
	envelope.MessageID = uuid.Nil

	err = guard.Apply(context.Background(), envelope, func(tx *gorm.DB) error { return nil })
	require.Error(t, err)
}
