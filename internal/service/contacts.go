package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/repository"
)

// ContactService manages contact edges on behalf of an authenticated caller.
type ContactService interface {
	// Create returns the edge between user1 and user2, creating it when missing.
	Create(ctx context.Context, caller, user1, user2 uuid.UUID) (c *model.Contact, created bool, err error)
	// List returns the caller's edges with counterpart and last message preview.
	List(ctx context.Context, caller, userID uuid.UUID) ([]model.ContactView, error)
	// Delete removes one of the caller's edges.
	Delete(ctx context.Context, caller, contactID uuid.UUID) error
	// SetLastMessage moves the edge's last-message pointer.
	SetLastMessage(ctx context.Context, caller, contactID, messageID uuid.UUID) (*model.Contact, error)
	// CounterpartIDs lists everyone userID has an edge with.
	CounterpartIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type ContactServiceImpl struct {
	repo repository.ContactRepository
}

// NewContactService constructs ContactService.
func NewContactService(repo repository.ContactRepository) *ContactServiceImpl {
	return &ContactServiceImpl{repo: repo}
}

// Create is idempotent over pair order: (a,b) and (b,a) resolve to the same edge.
func (s *ContactServiceImpl) Create(ctx context.Context, caller, user1, user2 uuid.UUID) (*model.Contact, bool, error) {
	if user1 == uuid.Nil || user2 == uuid.Nil {
		return nil, false, fmt.Errorf("%w: both user ids are required", errs.ErrInvalidArgument)
	}
	if user1 == user2 {
		return nil, false, fmt.Errorf("%w: cannot add yourself as a contact", errs.ErrInvalidArgument)
	}
	if caller != user1 && caller != user2 {
		return nil, false, errs.ErrForbidden
	}

	existing, err := s.repo.FindPair(ctx, user1, user2)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, false, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	c := &model.Contact{ID: id, User1: user1, User2: user2}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// lost a race with the other party
			existing, ferr := s.repo.FindPair(ctx, user1, user2)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return c, true, nil
}

// List returns the edges of userID, which must be the caller.
func (s *ContactServiceImpl) List(ctx context.Context, caller, userID uuid.UUID) ([]model.ContactView, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", errs.ErrInvalidArgument)
	}
	if caller != userID {
		return nil, errs.ErrForbidden
	}
	return s.repo.ListForUser(ctx, userID)
}

// Delete removes contactID if the caller is one of its parties.
func (s *ContactServiceImpl) Delete(ctx context.Context, caller, contactID uuid.UUID) error {
	if _, err := s.owned(ctx, caller, contactID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, contactID)
}

// SetLastMessage points contactID at messageID.
func (s *ContactServiceImpl) SetLastMessage(ctx context.Context, caller, contactID, messageID uuid.UUID) (*model.Contact, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("%w: message id is required", errs.ErrInvalidArgument)
	}
	if _, err := s.owned(ctx, caller, contactID); err != nil {
		return nil, err
	}
	return s.repo.SetLastMessage(ctx, contactID, messageID)
}

// CounterpartIDs lists the other party of each of userID's edges.
func (s *ContactServiceImpl) CounterpartIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.CounterpartIDs(ctx, userID)
}

func (s *ContactServiceImpl) owned(ctx context.Context, caller, contactID uuid.UUID) (*model.Contact, error) {
	if contactID == uuid.Nil {
		return nil, fmt.Errorf("%w: contact id is required", errs.ErrInvalidArgument)
	}
	c, err := s.repo.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if !c.Involves(caller) {
		return nil, errs.ErrForbidden
	}
	return c, nil
}
