package projection

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/consumer"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/enums"
	"github.com/attendly/backend/pkg/events"
	"github.com/attendly/backend/pkg/inbox"
	"github.com/attendly/backend/pkg/logger"
)

// NewUserRegisteredHandler maintains the local user projection from
// user.registered deliveries.
func NewUserRegisteredHandler(guard *inbox.Guard, userRefs *UserRefs, logg *logger.Logger) consumer.Handler {
	return func(ctx context.Context, envelope events.Envelope, payload any) error {
		registered, ok := payload.(*events.UserRegistered)
		if !ok {
			return events.NewNonRetryableError(fmt.Errorf("unexpected payload type for %s", envelope.Topic))
		}
		role, err := enums.ParseUserRole(registered.Role)
		if err != nil {
			return events.NewNonRetryableError(err)
		}

		err = guard.Apply(ctx, envelope, func(tx *gorm.DB) error {
			return userRefs.UpsertTx(tx, &models.UserRef{
				ID:    registered.ID,
				Name:  registered.Name,
				Email: registered.Email,
				Role:  role,
			})
		})
		if err != nil {
			return err
		}

		logg.Info(logg.WithField(ctx, "user_id", registered.ID.String()), "user projection created")
		return nil
	}
}

// NewUserDeletedProjectionHandler drops the local user projection on
// user.deleted deliveries.
func NewUserDeletedProjectionHandler(guard *inbox.Guard, userRefs *UserRefs, logg *logger.Logger) consumer.Handler {
	return func(ctx context.Context, envelope events.Envelope, payload any) error {
		deleted, ok := payload.(*events.UserDeleted)
		if !ok {
			return events.NewNonRetryableError(fmt.Errorf("unexpected payload type for %s", envelope.Topic))
		}

		err := guard.Apply(ctx, envelope, func(tx *gorm.DB) error {
			return userRefs.DeleteTx(tx, deleted.UserID)
		})
		if err != nil {
			return err
		}

		logg.Info(logg.WithField(ctx, "user_id", deleted.UserID.String()), "user projection removed")
		return nil
	}
}
