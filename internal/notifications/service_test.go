package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendly/backend/pkg/db/models"
	pkgerrors "github.com/attendly/backend/pkg/errors"
)

func TestGetInbox_newestFirst(t *testing.T) {
	db := setupNotificationsTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	recipient := uuid.New()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, title := range []string{"first", "second", "third"} {
		require.NoError(t, db.Create(&models.InboxNotification{
			ID:          uuid.New(),
			RecipientID: recipient,
			SenderID:    uuid.New(),
			Title:       title,
			Content:     "body",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}).Error)
	}

	notifications, err := svc.GetInbox(context.Background(), recipient)
	require.NoError(t, err)
	require.Len(t, notifications, 3)
	assert.Equal(t, "third", notifications[0].Title)
	assert.Equal(t, "first", notifications[2].Title)
}

func TestGetInbox_requiresRecipient(t *testing.T) {
	db := setupNotificationsTestDB(t)
	svc, err := NewService(NewRepository(db))
	require.NoError(t, err)

	_, err = svc.GetInbox(context.Background(), uuid.Nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
