package inbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/attendly/backend/pkg/db"
	"github.com/attendly/backend/pkg/db/models"
	"github.com/attendly/backend/pkg/events"
)

// ErrAlreadyApplied reports that an envelope's message id is already present
// in the inbox ledger. Under at-least-once delivery this is the expected
// steady state, not a failure.
var ErrAlreadyApplied = errors.New("inbox: message already applied")

// Repository persists the per-service dedup ledger.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ExistsTx(tx *gorm.DB, messageID uuid.UUID) (bool, error) {
	var count int64
	err := tx.Model(&models.InboxMessage{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) InsertTx(tx *gorm.DB, record *models.InboxMessage) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(record).Error
}

func (r *Repository) Park(ctx context.Context, parked *models.ParkedMessage) error {
	return r.db.WithContext(ctx).Create(parked).Error
}

// TxRunner abstracts db.Client.WithTx so the guard is testable without a
// live database.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Guard applies a domain effect exactly once per message id. The effect and
// the inbox record commit in one transaction: if either half fails, neither
// persists.
type Guard struct {
	tx   TxRunner
	repo *Repository
}

func NewGuard(tx TxRunner, repo *Repository) (*Guard, error) {
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if repo == nil {
		return nil, errors.New("inbox repository is required")
	}
	return &Guard{tx: tx, repo: repo}, nil
}

// Apply runs fn and records the envelope in the same transaction. A
// duplicate message id returns ErrAlreadyApplied with no domain effect; the
// unique index on message_id backstops the read check under concurrent
// deliveries of the same envelope.
func (g *Guard) Apply(ctx context.Context, envelope events.Envelope, fn func(tx *gorm.DB) error) error {
	if envelope.MessageID == uuid.Nil {
		return errors.New("inbox: message id is required")
	}
	err := g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		seen, err := g.repo.ExistsTx(tx, envelope.MessageID)
		if err != nil {
			return err
		}
		if seen {
			return ErrAlreadyApplied
		}
		if err := fn(tx); err != nil {
			return err
		}
		return g.repo.InsertTx(tx, &models.InboxMessage{
			MessageID: envelope.MessageID,
			Topic:     envelope.Topic,
			Payload:   envelope.Message,
		})
	})
	if err != nil && dbpkg.IsUniqueViolation(err, "ux_inbox_messages_message_id") {
		return ErrAlreadyApplied
	}
	return err
}
