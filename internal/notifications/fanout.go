package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/consumer"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
	"github.com/attendly/backend/pkg/projection"
	"github.com/attendly/backend/pkg/realtime"
)

const fanOutTitle = "New Update from Staff"

// Pusher is the realtime delivery surface, satisfied by realtime.Hub.
type Pusher interface {
	SendToUser(ctx context.Context, userID uuid.UUID, push realtime.Push) error
}

// FanOut turns staff change events into one inbox notification per admin.
// All inserts and the inbox ledger row commit in one transaction: either
// every admin gets the notification or none does, and a redelivery replays
// nothing. Realtime pushes happen after commit and are best effort.
type FanOut struct {
	guard    *inbox.Guard
	userRefs *projection.UserRefs
	repo     *Repository
	pusher   Pusher
	logg     *logger.Logger
}

// NewFanOut builds the staff change fan-out.
func NewFanOut(guard *inbox.Guard, userRefs *projection.UserRefs, repo *Repository, pusher Pusher, logg *logger.Logger) (*FanOut, error) {
	if guard == nil || userRefs == nil || repo == nil {
		return nil, fmt.Errorf("fan-out dependencies required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &FanOut{
		guard:    guard,
		userRefs: userRefs,
		repo:     repo,
		pusher:   pusher,
		logg:     logg,
	}, nil
}

// Handler returns the consumer handler for notification.push deliveries.
func (f *FanOut) Handler() consumer.Handler {
	return func(ctx context.Context, envelope events.Envelope, payload any) error {
		changed, ok := payload.(*events.StaffChanged)
		if !ok {
			return events.NewNonRetryableError(fmt.Errorf("unexpected payload type for %s", envelope.Topic))
		}

		content := renderContent(changed)
		var stored []models.InboxNotification

		err := f.guard.Apply(ctx, envelope, func(tx *gorm.DB) error {
			admins, err := f.userRefs.ListAdminsTx(tx)
			if err != nil {
				return err
			}
			for _, admin := range admins {
				notification := models.InboxNotification{
					RecipientID: admin.ID,
					SenderID:    changed.StaffUserID,
					Title:       fanOutTitle,
					Content:     content,
				}
				if err := f.repo.CreateTx(tx, &notification); err != nil {
					return err
				}
				stored = append(stored, notification)
			}
			return nil
		})
		if err != nil {
			return err
		}

		f.push(ctx, stored)
		return nil
	}
}

// push delivers stored notifications over the hub. Failures are logged and
// never fail the handler: the committed rows are the source of truth.
func (f *FanOut) push(ctx context.Context, stored []models.InboxNotification) {
	if f.pusher == nil {
		return
	}
	var pushErr error
	for _, notification := range stored {
		err := f.pusher.SendToUser(ctx, notification.RecipientID, realtime.Push{
			Type:      events.TopicStaffChanged,
			ID:        notification.ID,
			SenderID:  notification.SenderID,
			Title:     notification.Title,
			Content:   notification.Content,
			CreatedAt: notification.CreatedAt,
		})
		if err != nil {
			pushErr = multierr.Append(pushErr, fmt.Errorf("push to %s: %w", notification.RecipientID, err))
		}
	}
	if pushErr != nil {
		f.logg.Error(ctx, "realtime push incomplete", pushErr)
	}
	f.logg.Info(f.logg.WithField(ctx, "recipients", len(stored)), "staff change fanned out")
}

func renderContent(changed *events.StaffChanged) string {
	changes := changed.Changes
	if len(changes) == 0 {
		changes = []string{"profile"}
	}
	return fmt.Sprintf("%s has updated his/her %s.", changed.StaffName, strings.Join(changes, ", "))
}
