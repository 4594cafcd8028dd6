package workforce

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/config"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/enums"
	pkgerrors "github.com/attendly/backend/pkg/errors"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/outbox"
	"github.com/attendly/backend/pkg/projection"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func testPubSubConfig() config.PubSubConfig {
	return config.PubSubConfig{
		UserRegisteredTopic: "user-registered",
		UserDeletedTopic:    "user-deleted",
		StaffChangedTopic:   "notification-push",
	}
}

func newStaffService(t *testing.T, db *gorm.DB) *StaffService {
	t.Helper()

	registry, err := events.NewRegistry(testPubSubConfig())
	require.NoError(t, err)
	emitter, err := outbox.NewEmitter(registry, testLogger())
	require.NoError(t, err)

	svc, err := NewStaffService(StaffServiceParams{
		Tx:        testTxRunner{db: db},
		Staff:     NewStaffRepository(db),
		Positions: NewPositionRepository(db),
		Files:     NewFileRepository(db),
		UserRefs:  projection.NewUserRefs(db),
		Emitter:   emitter,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return svc
}

func outboxRowsForTopic(t *testing.T, db *gorm.DB, topic string, orderingKey string) []models.OutboxEvent {
	t.Helper()

	var rows []models.OutboxEvent
	require.NoError(t, db.Where("topic = ? AND ordering_key = ?", topic, orderingKey).Find(&rows).Error)
	return rows
}

func TestCreateStaff(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	position := newPosition(t, db, "Engineer")
	admin := Actor{UserID: uuid.New(), Role: enums.RoleAdmin}

	staff, err := svc.CreateStaff(context.Background(), admin, CreateStaffRequest{
		UserID:     uuid.New(),
		PositionID: position.ID,
		Name:       "  Dana Field  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dana Field", staff.Name)
	assert.NotEqual(t, uuid.Nil, staff.ID)
}

func TestCreateStaff_requiresAdmin(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	_, err := svc.CreateStaff(context.Background(), Actor{UserID: uuid.New(), Role: enums.RoleUser}, CreateStaffRequest{
		UserID:     uuid.New(),
		PositionID: uuid.New(),
		Name:       "Dana Field",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestCreateStaff_unknownPosition(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	_, err := svc.CreateStaff(context.Background(), Actor{Role: enums.RoleAdmin}, CreateStaffRequest{
		UserID:     uuid.New(),
		PositionID: uuid.New(),
		Name:       "Dana Field",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateStaff_duplicateUserConflicts(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	position := newPosition(t, db, "Engineer")
	admin := Actor{Role: enums.RoleAdmin}
	userID := uuid.New()

	_, err := svc.CreateStaff(context.Background(), admin, CreateStaffRequest{
		UserID:     userID,
		PositionID: position.ID,
		Name:       "Dana Field",
	})
	require.NoError(t, err)

	_, err = svc.CreateStaff(context.Background(), admin, CreateStaffRequest{
		UserID:     userID,
		PositionID: position.ID,
		Name:       "Dana Again",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestUpdateStaff_emitsChangedFields(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")

	name := "Dana Rivers"
	phone := "555-0100"
	updated, err := svc.UpdateStaff(context.Background(), Actor{UserID: staff.UserID, Role: enums.RoleUser}, staff.ID, UpdateStaffRequest{
		Name:    &name,
		PhoneNo: &phone,
	})
	require.NoError(t, err)
	assert.Equal(t, "Dana Rivers", updated.Name)

	rows := outboxRowsForTopic(t, db, events.TopicStaffChanged, staff.UserID.String())
	require.Len(t, rows, 1)

	var payload events.StaffChanged
	require.NoError(t, json.Unmarshal(rows[0].Payload, &payload))
	assert.Equal(t, staff.UserID, payload.StaffUserID)
	assert.Equal(t, "Dana Rivers", payload.StaffName)
	// Changes carry the payload field names so consumers render exactly what
	// the producer saw.
	assert.Equal(t, []string{"name", "phoneNo"}, payload.Changes)
}

func TestUpdateStaff_noChangesEmitsNothing(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")

	same := staff.Name
	_, err := svc.UpdateStaff(context.Background(), Actor{UserID: staff.UserID, Role: enums.RoleUser}, staff.ID, UpdateStaffRequest{
		Name: &same,
	})
	require.NoError(t, err)

	rows := outboxRowsForTopic(t, db, events.TopicStaffChanged, staff.UserID.String())
	assert.Empty(t, rows)
}

func TestUpdateStaff_forbiddenForOtherUsers(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")

	name := "Hijacked"
	_, err := svc.UpdateStaff(context.Background(), Actor{UserID: uuid.New(), Role: enums.RoleUser}, staff.ID, UpdateStaffRequest{
		Name: &name,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestUpdateStaff_notFound(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	name := "Nobody"
	_, err := svc.UpdateStaff(context.Background(), Actor{Role: enums.RoleAdmin}, uuid.New(), UpdateStaffRequest{Name: &name})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFindAllStaff_keywordMatchesEmail(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")
	require.NoError(t, db.Create(&models.UserRef{
		ID:    staff.UserID,
		Name:  "Dana Field",
		Email: "qx7marker@example.com",
		Role:  enums.RoleUser,
	}).Error)

	// The keyword matches neither the staff name nor the position name, only
	// the projected email.
	rows, err := svc.FindAllStaff(context.Background(), "QX7MARKER")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, staff.ID, rows[0].ID)
	assert.Equal(t, "qx7marker@example.com", rows[0].Email)
}

func TestDeleteStaff_cascadesAndEmits(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")
	require.NoError(t, db.Create(&models.UserRef{ID: staff.UserID, Name: "Dana Field", Email: "dana@example.com", Role: enums.RoleUser}).Error)

	require.NoError(t, svc.DeleteStaff(context.Background(), Actor{Role: enums.RoleAdmin}, staff.ID))

	var staffCount int64
	require.NoError(t, db.Model(&models.Staff{}).Where("id = ?", staff.ID).Count(&staffCount).Error)
	assert.Zero(t, staffCount)

	var refCount int64
	require.NoError(t, db.Model(&models.UserRef{}).Where("id = ?", staff.UserID).Count(&refCount).Error)
	assert.Zero(t, refCount)

	rows := outboxRowsForTopic(t, db, events.TopicUserDeleted, staff.UserID.String())
	require.Len(t, rows, 1)

	var payload events.UserDeleted
	require.NoError(t, json.Unmarshal(rows[0].Payload, &payload))
	assert.Equal(t, staff.UserID, payload.UserID)
}

func TestDeleteStaff_requiresAdmin(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	staff := newStaff(t, db, "Dana Field")

	err := svc.DeleteStaff(context.Background(), Actor{UserID: staff.UserID, Role: enums.RoleUser}, staff.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestSaveFile_requiresContent(t *testing.T) {
	db := setupWorkforceTestDB(t)
	svc := newStaffService(t, db)

	_, err := svc.SaveFile(context.Background(), "photo.png", nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	id, err := svc.SaveFile(context.Background(), "photo.png", []byte{0x89, 0x50})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}
