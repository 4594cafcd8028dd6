package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/attendly/backend/pkg/db/models"
	pkgerrors "github.com/attendly/backend/pkg/errors"
)

// Service exposes the query side of the notification inbox.
type Service struct {
	repo *Repository
}

// NewService builds the notifications query service.
func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repository required")
	}
	return &Service{repo: repo}, nil
}

// GetInbox returns the caller's notifications, newest first.
func (s *Service) GetInbox(ctx context.Context, recipientID uuid.UUID) ([]models.InboxNotification, error) {
	if recipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id is required")
	}
	notifications, err := s.repo.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list inbox")
	}
	return notifications, nil
}
