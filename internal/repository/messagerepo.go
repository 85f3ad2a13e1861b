package repository

import (
	"context"

	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository stores messages addressed by contact edge.
type MessageRepository interface {
	// Create inserts the message and moves the edge's last-message pointer atomically.
	Create(ctx context.Context, m *model.Message) error
	// GetByID loads a message.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// ListByContact returns the edge's messages oldest first.
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]model.Message, error)
	// Delete removes a message.
	Delete(ctx context.Context, id uuid.UUID) error
	// UpdateStatus applies a partial delivered/read change and touches the edge.
	UpdateStatus(ctx context.Context, id uuid.UUID, p model.StatusPatch) (*model.Message, error)
}
