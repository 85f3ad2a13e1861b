package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/repository"
)

// MessageService persists messages and their delivery status.
type MessageService interface {
	// Send stores a message on an edge the caller belongs to.
	Send(ctx context.Context, caller uuid.UUID, in SendInput) (*model.Message, error)
	// List returns an edge's history oldest first.
	List(ctx context.Context, caller, contactID uuid.UUID) ([]model.Message, error)
	// Delete removes a message written by the caller.
	Delete(ctx context.Context, caller, messageID uuid.UUID) error
	// UpdateStatus applies a partial delivered/read change and notifies live parties.
	UpdateStatus(ctx context.Context, caller, messageID uuid.UUID, p model.StatusPatch) (*model.Message, error)
}

// StatusNotifier pushes status changes to live connections. Implemented by presence.Relay.
type StatusNotifier interface {
	MessageStatus(messageID string, st presence.Status, parties ...string) int
}

// SendInput carries a new message.
type SendInput struct {
	ContactID  uuid.UUID
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Content    string
	FileURLs   []string
}

type MessageServiceImpl struct {
	messages repository.MessageRepository
	contacts repository.ContactRepository
	notify   StatusNotifier
	log      *zap.Logger
}

// NewMessageService constructs MessageService. notify may be nil.
func NewMessageService(
	messages repository.MessageRepository, contacts repository.ContactRepository, notify StatusNotifier, log *zap.Logger,
) *MessageServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageServiceImpl{messages: messages, contacts: contacts, notify: notify, log: log.Named("messages")}
}

// Send validates the edge and parties and stores the message undelivered and unread.
func (s *MessageServiceImpl) Send(ctx context.Context, caller uuid.UUID, in SendInput) (*model.Message, error) {
	if in.ContactID == uuid.Nil || in.SenderID == uuid.Nil || in.ReceiverID == uuid.Nil {
		return nil, fmt.Errorf("%w: contact id, sender id and receiver id are required", errs.ErrInvalidArgument)
	}
	if in.SenderID != caller {
		return nil, errs.ErrForbidden
	}
	if in.SenderID == in.ReceiverID {
		return nil, fmt.Errorf("%w: sender and receiver must differ", errs.ErrInvalidArgument)
	}
	c, err := s.contacts.GetByID(ctx, in.ContactID)
	if err != nil {
		return nil, err
	}
	if !c.Involves(in.SenderID) || !c.Involves(in.ReceiverID) {
		return nil, fmt.Errorf("%w: parties do not match contact", errs.ErrForbidden)
	}

	files := make([]string, 0, len(in.FileURLs))
	for _, u := range in.FileURLs {
		if u = strings.TrimSpace(u); u != "" {
			files = append(files, u)
		}
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:         id,
		ContactID:  in.ContactID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		FileURLs:   files,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the history of contactID if the caller is a party.
func (s *MessageServiceImpl) List(ctx context.Context, caller, contactID uuid.UUID) ([]model.Message, error) {
	if contactID == uuid.Nil {
		return nil, fmt.Errorf("%w: contact id is required", errs.ErrInvalidArgument)
	}
	c, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if !c.Involves(caller) {
		return nil, errs.ErrForbidden
	}
	return s.messages.ListByContact(ctx, contactID)
}

// Delete removes messageID if the caller sent it.
func (s *MessageServiceImpl) Delete(ctx context.Context, caller, messageID uuid.UUID) error {
	m, err := s.get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != caller {
		return errs.ErrForbidden
	}
	return s.messages.Delete(ctx, messageID)
}

// UpdateStatus persists p, then relays the resulting status to the sender's and the
// receiver's live connections. Nothing is relayed when the write fails.
func (s *MessageServiceImpl) UpdateStatus(
	ctx context.Context, caller, messageID uuid.UUID, p model.StatusPatch,
) (*model.Message, error) {
	if p.Empty() {
		return nil, fmt.Errorf("%w: delivered or read is required", errs.ErrInvalidArgument)
	}
	m, err := s.get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != caller && m.ReceiverID != caller {
		return nil, errs.ErrForbidden
	}

	updated, err := s.messages.UpdateStatus(ctx, messageID, p)
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		n := s.notify.MessageStatus(updated.ID.String(),
			presence.Status{Delivered: updated.Delivered, Read: updated.Read},
			updated.SenderID.String(), updated.ReceiverID.String())
		s.log.Debug("status relayed", zap.String("message", updated.ID.String()), zap.Int("conns", n))
	}
	return updated, nil
}

func (s *MessageServiceImpl) get(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	if messageID == uuid.Nil {
		return nil, fmt.Errorf("%w: message id is required", errs.ErrInvalidArgument)
	}
	return s.messages.GetByID(ctx, messageID)
}
