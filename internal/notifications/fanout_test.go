package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/attendly/backend/pkg/projection"
	"github.com/attendly/backend/pkg/realtime"
)

func setupNotificationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:notifications_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	userRefs := `
CREATE TABLE IF NOT EXISTS user_refs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at DATETIME
);`
	inboxNotifications := `
CREATE TABLE IF NOT EXISTS inbox_notifications (
  id TEXT PRIMARY KEY,
  recipient_id TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  title TEXT NOT NULL,
  content TEXT NOT NULL,
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
	for _, stmt := range []string{userRefs, inboxNotifications, inboxMessages} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// recordingPusher captures realtime pushes; failFor makes deliveries to one
// recipient error.
type recordingPusher struct {
	sent    map[uuid.UUID][]realtime.Push
	failFor uuid.UUID
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{sent: make(map[uuid.UUID][]realtime.Push)}
}

func (p *recordingPusher) SendToUser(ctx context.Context, userID uuid.UUID, push realtime.Push) error {
	if p.failFor != uuid.Nil && userID == p.failFor {
		return errors.New("socket gone")
	}
	p.sent[userID] = append(p.sent[userID], push)
	return nil
}

func newAdmin(t *testing.T, db *gorm.DB, email string) *models.UserRef {
	t.Helper()

	ref := &models.UserRef{ID: uuid.New(), Name: "Admin", Email: email, Role: enums.RoleAdmin}
	require.NoError(t, db.Create(ref).Error)
	return ref
}

func newFanOutUnderTest(t *testing.T, db *gorm.DB, pusher Pusher) *FanOut {
	t.Helper()

	guard, err := inbox.NewGuard(testTxRunner{db: db}, inbox.NewRepository(db))
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")})
	fanOut, err := NewFanOut(guard, projection.NewUserRefs(db), NewRepository(db), pusher, logg)
	require.NoError(t, err)
	return fanOut
}

func staffChangedEnvelope(t *testing.T, changed events.StaffChanged) (events.Envelope, *events.StaffChanged) {
	t.Helper()

	payload, err := json.Marshal(changed)
	require.NoError(t, err)
	return events.Envelope{
		MessageID: uuid.New(),
		Topic:     events.TopicStaffChanged,
		Message:   payload,
	}, &changed
}

func TestFanOut_oneNotificationPerAdmin(t *testing.T) {
	db := setupNotificationsTestDB(t)
	pusher := newRecordingPusher()
	fanOut := newFanOutUnderTest(t, db, pusher)

	adminA := newAdmin(t, db, "a@example.com")
	adminB := newAdmin(t, db, "b@example.com")
	staffUser := uuid.New()
	require.NoError(t, db.Create(&models.UserRef{ID: staffUser, Name: "Dana", Email: "dana@example.com", Role: enums.RoleUser}).Error)

	envelope, changed := staffChangedEnvelope(t, events.StaffChanged{
		StaffUserID: staffUser,
		StaffName:   "Dana Field",
		Changes:     []string{"name", "positionId"},
	})

	require.NoError(t, fanOut.Handler()(context.Background(), envelope, changed))

	for _, admin := range []*models.UserRef{adminA, adminB} {
		var rows []models.InboxNotification
		require.NoError(t, db.Where("recipient_id = ?", admin.ID).Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.Equal(t, "New Update from Staff", rows[0].Title)
		assert.Equal(t, "Dana Field has updated his/her name, positionId.", rows[0].Content)
		assert.Equal(t, staffUser, rows[0].SenderID)
		assert.Len(t, pusher.sent[admin.ID], 1)
	}

	// The staff member is not an admin and receives nothing.
	var staffRows int64
	require.NoError(t, db.Model(&models.InboxNotification{}).Where("recipient_id = ?", staffUser).Count(&staffRows).Error)
	assert.Zero(t, staffRows)
}

func TestFanOut_redeliveryIsNoOp(t *testing.T) {
	db := setupNotificationsTestDB(t)
	fanOut := newFanOutUnderTest(t, db, nil)

	admin := newAdmin(t, db, "dup@example.com")
	envelope, changed := staffChangedEnvelope(t, events.StaffChanged{
		StaffUserID: uuid.New(),
		StaffName:   "Dana Field",
		Changes:     []string{"name"},
	})

	require.NoError(t, fanOut.Handler()(context.Background(), envelope, changed))

	err := fanOut.Handler()(context.Background(), envelope, changed)
	require.ErrorIs(t, err, inbox.ErrAlreadyApplied)

	var count int64
	require.NoError(t, db.Model(&models.InboxNotification{}).Where("recipient_id = ?", admin.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFanOut_abortsAtomicallyWhenOneInsertFails(t *testing.T) {
	db := setupNotificationsTestDB(t)
	fanOut := newFanOutUnderTest(t, db, nil)

	healthy := newAdmin(t, db, "intact@example.com")
	doomed := newAdmin(t, db, "refused@example.com")
	recipients := []uuid.UUID{healthy.ID, doomed.ID}

	// Refuse the insert addressed to one admin so the fan-out fails
	// mid-batch.
	trigger := fmt.Sprintf(`
CREATE TRIGGER reject_refused_inserts BEFORE INSERT ON inbox_notifications
WHEN NEW.recipient_id = '%s'
BEGIN
  SELECT RAISE(ABORT, 'insert refused');
END;`, doomed.ID)
	require.NoError(t, db.Exec(trigger).Error)
	t.Cleanup(func() { db.Exec("DROP TRIGGER IF EXISTS reject_refused_inserts") })

	envelope, changed := staffChangedEnvelope(t, events.StaffChanged{
		StaffUserID: uuid.New(),
		StaffName:   "Dana Field",
		Changes:     []string{"name"},
	})

	err := fanOut.Handler()(context.Background(), envelope, changed)
	require.Error(t, err)

	// The whole transaction rolled back: no notification for either admin
	// and no ledger row.
	var count int64
	require.NoError(t, db.Model(&models.InboxNotification{}).Where("recipient_id IN ?", recipients).Count(&count).Error)
	assert.Zero(t, count)

	var ledger int64
	require.NoError(t, db.Model(&models.InboxMessage{}).Where("message_id = ?", envelope.MessageID).Count(&ledger).Error)
	assert.Zero(t, ledger)

	// Once the failure clears, the redelivery fans out in full.
	require.NoError(t, db.Exec("DROP TRIGGER IF EXISTS reject_refused_inserts").Error)
	require.NoError(t, fanOut.Handler()(context.Background(), envelope, changed))
	require.NoError(t, db.Model(&models.InboxNotification{}).Where("recipient_id IN ?", recipients).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestFanOut_pushFailureKeepsRows(t *testing.T) {
	db := setupNotificationsTestDB(t)
	pusher := newRecordingPusher()
	fanOut := newFanOutUnderTest(t, db, pusher)

	broken := newAdmin(t, db, "broken@example.com")
	healthy := newAdmin(t, db, "healthy@example.com")
	pusher.failFor = broken.ID

	envelope, changed := staffChangedEnvelope(t, events.StaffChanged{
		StaffUserID: uuid.New(),
		StaffName:   "Dana Field",
		Changes:     []string{"phoneNo"},
	})

	require.NoError(t, fanOut.Handler()(context.Background(), envelope, changed))

	// Rows commit for both admins even though one push failed.
	for _, admin := range []*models.UserRef{broken, healthy} {
		var count int64
		require.NoError(t, db.Model(&models.InboxNotification{}).Where("recipient_id = ?", admin.ID).Count(&count).Error)
		assert.Equal(t, int64(1), count, admin.Email)
	}
	assert.Empty(t, pusher.sent[broken.ID])
	assert.Len(t, pusher.sent[healthy.ID], 1)
}

func TestFanOut_emptyChangesFallBackToProfile(t *testing.T) {
	db := setupNotificationsTestDB(t)
	fanOut := newFanOutUnderTest(t, db, nil)

	admin := newAdmin(t, db, "fallback@example.com")
	envelope, changed := staffChangedEnvelope(t, events.StaffChanged{
		StaffUserID: uuid.New(),
		StaffName:   "Dana Field",
	})

	require.NoError(t, fanOut.Handler()(context.Background(), envelope, changed))

	var row models.InboxNotification
	require.NoError(t, db.First(&row, "recipient_id = ?", admin.ID).Error)
	assert.Equal(t, "Dana Field has updated his/her profile.", row.Content)
}

func TestFanOut_rejectsUnexpectedPayload(t *testing.T) {
	db := setupNotificationsTestDB(t)
	fanOut := newFanOutUnderTest(t, db, nil)

	envelope := events.Envelope{MessageID: uuid.New(), Topic: events.TopicStaffChanged}
	err := fanOut.Handler()(context.Background(), envelope, &events.UserDeleted{})
	require.Error(t, err)

	var nonRetryable events.NonRetryableError
	assert.True(t, errors.As(err, &nonRetryable), fmt.Sprintf("got %T", err))
}
