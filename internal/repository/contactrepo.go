package repository

import (
	"context"

	"github.com/and161185/lexchat/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ContactRepository stores pairwise contact edges.
type ContactRepository interface {
	// Create inserts a new edge; an existing pair yields errs.ErrAlreadyExists.
	Create(ctx context.Context, c *model.Contact) error
	// GetByID loads an edge.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	// FindPair loads the edge between a and b regardless of order.
	FindPair(ctx context.Context, a, b uuid.UUID) (*model.Contact, error)
	// ListForUser returns the user's edges, most recent activity first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ContactView, error)
	// CounterpartIDs returns the other party of every edge of userID.
	CounterpartIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// Delete removes an edge and its messages.
	Delete(ctx context.Context, id uuid.UUID) error
	// SetLastMessage points the edge at messageID and bumps its activity time.
	SetLastMessage(ctx context.Context, id, messageID uuid.UUID) (*model.Contact, error)
}
