package identity

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/consumer"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
)

// NewUserDeletedHandler returns the handler for user.deleted deliveries.
// The topic originates in the workforce staff cascade; identity removes its
// user row and does not re-emit, so the event chain terminates here.
func NewUserDeletedHandler(guard *inbox.Guard, repo *Repository, logg *logger.Logger) consumer.Handler {
	return func(ctx context.Context, envelope events.Envelope, payload any) error {
		deleted, ok := payload.(*events.UserDeleted)
		if !ok {
			return events.NewNonRetryableError(fmt.Errorf("unexpected payload type for %s", envelope.Topic))
		}

		err := guard.Apply(ctx, envelope, func(tx *gorm.DB) error {
			return repo.DeleteTx(tx, deleted.UserID)
		})
		if err != nil {
			return err
		}

		logg.Info(logg.WithField(ctx, "user_id", deleted.UserID.String()), "user removed after workforce cascade")
		return nil
	}
}
