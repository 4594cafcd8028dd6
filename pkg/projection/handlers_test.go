package projection

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
	"github.com/attendly/backend/pkg/enums"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
)

func setupProjectionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:projection_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	userRefs := `
CREATE TABLE IF NOT EXISTS user_refs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at DATETIME
);`
	inboxMessages := `
CREATE TABLE IF NOT EXISTS inbox_messages (
  id TEXT PRIMARY KEY,
  message_id TEXT NOT NULL UNIQUE,
  topic TEXT NOT NULL,
  payload TEXT NOT NULL,
  received_at DATETIME
);`
	require.NoError(t, db.Exec(userRefs).Error)
	require.NoError(t, db.Exec(inboxMessages).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newProjectionGuard(t *testing.T, db *gorm.DB) *inbox.Guard {
	t.Helper()

	guard, err := inbox.NewGuard(testTxRunner{db: db}, inbox.NewRepository(db))
	require.NoError(t, err)
	return guard
}

func projectionLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")})
}

func registeredEnvelope(t *testing.T, registered events.UserRegistered) (events.Envelope, *events.UserRegistered) {
	t.Helper()

	payload, err := json.Marshal(registered)
	require.NoError(t, err)
	return events.Envelope{
		MessageID: uuid.New(),
		Topic:     events.TopicUserRegistered,
		Message:   payload,
	}, &registered
}

func TestUserRegisteredHandler_createsProjection(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)
	handler := NewUserRegisteredHandler(newProjectionGuard(t, db), userRefs, projectionLogger())

	userID := uuid.New()
	envelope, payload := registeredEnvelope(t, events.UserRegistered{
		ID:    userID,
		Name:  "Dana Field",
		Email: "dana@example.com",
		Role:  string(enums.RoleAdmin),
	})

	require.NoError(t, handler(context.Background(), envelope, payload))

	ref, err := userRefs.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Field", ref.Name)
	assert.Equal(t, enums.RoleAdmin, ref.Role)
}

func TestUserRegisteredHandler_redeliveryIsNoOp(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)
	handler := NewUserRegisteredHandler(newProjectionGuard(t, db), userRefs, projectionLogger())

	envelope, payload := registeredEnvelope(t, events.UserRegistered{
		ID:    uuid.New(),
		Name:  "Dana Field",
		Email: "dana@example.com",
		Role:  string(enums.RoleUser),
	})

	require.NoError(t, handler(context.Background(), envelope, payload))

	err := handler(context.Background(), envelope, payload)
	require.ErrorIs(t, err, inbox.ErrAlreadyApplied)
}

func TestUserRegisteredHandler_invalidRoleIsNonRetryable(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)
	handler := NewUserRegisteredHandler(newProjectionGuard(t, db), userRefs, projectionLogger())

	envelope, payload := registeredEnvelope(t, events.UserRegistered{
		ID:    uuid.New(),
		Name:  "Dana Field",
		Email: "dana@example.com",
		Role:  "OVERLORD",
	})

	err := handler(context.Background(), envelope, payload)
	require.Error(t, err)

	var nonRetryable events.NonRetryableError
	assert.True(t, errors.As(err, &nonRetryable))
}

func TestUserDeletedProjectionHandler(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)
	handler := NewUserDeletedProjectionHandler(newProjectionGuard(t, db), userRefs, projectionLogger())

	userID := uuid.New()
	require.NoError(t, db.Create(&models.UserRef{ID: userID, Name: "Dana", Email: "dana@example.com", Role: enums.RoleUser}).Error)

	deleted := events.UserDeleted{UserID: userID}
	payload, err := json.Marshal(deleted)
	require.NoError(t, err)
	envelope := events.Envelope{MessageID: uuid.New(), Topic: events.TopicUserDeleted, Message: payload}

	require.NoError(t, handler(context.Background(), envelope, &deleted))

	_, err = userRefs.GetByID(context.Background(), userID)
	require.ErrorIs(t, err, ErrUserRefNotFound)
}

func TestUserDeletedProjectionHandler_missingRefStillApplies(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)
	handler := NewUserDeletedProjectionHandler(newProjectionGuard(t, db), userRefs, projectionLogger())

	deleted := events.UserDeleted{UserID: uuid.New()}
	payload, err := json.Marshal(deleted)
	require.NoError(t, err)
	envelope := events.Envelope{MessageID: uuid.New(), Topic: events.TopicUserDeleted, Message: payload}

	// Deleting a projection that never existed is not an error; the ledger
	// row still commits so the delivery is settled.
	require.NoError(t, handler(context.Background(), envelope, &deleted))

	err = handler(context.Background(), envelope, &deleted)
	require.ErrorIs(t, err, inbox.ErrAlreadyApplied)
}

func TestListAdminsTx(t *testing.T) {
	db := setupProjectionTestDB(t)
	userRefs := NewUserRefs(db)

	admin := &models.UserRef{ID: uuid.New(), Name: "Admin", Email: "admin-list@example.com", Role: enums.RoleAdmin}
	user := &models.UserRef{ID: uuid.New(), Name: "User", Email: "user-list@example.com", Role: enums.RoleUser}
	require.NoError(t, db.Create(admin).Error)
	require.NoError(t, db.Create(user).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		admins, err := userRefs.ListAdminsTx(tx)
		require.NoError(t, err)

		ids := make(map[uuid.UUID]bool, len(admins))
		for _, ref := range admins {
			assert.Equal(t, enums.RoleAdmin, ref.Role)
			ids[ref.ID] = true
		}
		assert.True(t, ids[admin.ID])
		assert.False(t, ids[user.ID])
		return nil
	})
	require.NoError(t, err)
}
