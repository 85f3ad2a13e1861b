package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/limiter"
	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/repository"
)

/************ users ************/

type fakeUsers struct {
	byEmail map[string]*model.User

	createErr error
	getErr    error

	lastPatch   model.ProfilePatch
	updateCalls int
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	cpy.CreatedAt = time.Now()
	f.byEmail[u.Email] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id uuid.UUID, p model.ProfilePatch) (*model.User, error) {
	f.updateCalls++
	f.lastPatch = p
	for _, u := range f.byEmail {
		if u.ID != id {
			continue
		}
		if p.FirstName != nil {
			u.FirstName = *p.FirstName
		}
		if p.LastName != nil {
			u.LastName = *p.LastName
		}
		if p.PracticeAreas != nil {
			u.PracticeAreas = *p.PracticeAreas
		}
		if p.Description != nil {
			u.Description = *p.Description
		}
		if p.Experience != nil {
			u.Experience = *p.Experience
		}
		if p.Location != nil {
			u.Location = *p.Location
		}
		u.UpdatedAt = time.Now()
		c := *u
		return &c, nil
	}
	return nil, errs.ErrNotFound
}

/************ limiter / tokens ************/

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.LoginLimiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

type fakeIssuer struct {
	err      error
	lastUser uuid.UUID
	lastRole string
}

func (f *fakeIssuer) Issue(userID uuid.UUID, role string) (model.Tokens, error) {
	if f.err != nil {
		return model.Tokens{}, f.err
	}
	f.lastUser, f.lastRole = userID, role
	return model.Tokens{AccessToken: "tok-" + userID.String(), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

/************ contacts ************/

type fakeContacts struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Contact

	createErr error
	// raceOnCreate simulates the other party inserting the same pair first.
	raceOnCreate bool
}

var _ repository.ContactRepository = (*fakeContacts)(nil)

func newFakeContacts(cs ...*model.Contact) *fakeContacts {
	f := &fakeContacts{byID: map[uuid.UUID]*model.Contact{}}
	for _, c := range cs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeContacts) Create(_ context.Context, c *model.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.raceOnCreate {
		winner := &model.Contact{ID: uuid.Must(uuid.NewV4()), User1: c.User2, User2: c.User1}
		f.byID[winner.ID] = winner
		return errs.ErrAlreadyExists
	}
	for _, e := range f.byID {
		if e.Involves(c.User1) && e.Involves(c.User2) {
			return errs.ErrAlreadyExists
		}
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cpy := *c
	f.byID[c.ID] = &cpy
	return nil
}

func (f *fakeContacts) GetByID(_ context.Context, id uuid.UUID) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}

func (f *fakeContacts) FindPair(_ context.Context, a, b uuid.UUID) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byID {
		if c.Involves(a) && c.Involves(b) {
			cpy := *c
			return &cpy, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeContacts) ListForUser(_ context.Context, userID uuid.UUID) ([]model.ContactView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ContactView, 0)
	for _, c := range f.byID {
		if c.Involves(userID) {
			out = append(out, model.ContactView{
				ID:          c.ID,
				Counterpart: model.UserSummary{ID: c.Counterpart(userID)},
				UpdatedAt:   c.UpdatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeContacts) CounterpartIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0)
	for _, c := range f.byID {
		if c.Involves(userID) {
			out = append(out, c.Counterpart(userID))
		}
	}
	return out, nil
}

func (f *fakeContacts) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeContacts) SetLastMessage(_ context.Context, id, messageID uuid.UUID) (*model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c.LastMessageID = uuid.NullUUID{UUID: messageID, Valid: true}
	c.UpdatedAt = time.Now()
	cpy := *c
	return &cpy, nil
}

/************ messages ************/

type fakeMessages struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Message
	// contacts receives last-message updates when set.
	contacts *fakeContacts

	updateErr error
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func newFakeMessages(contacts *fakeContacts) *fakeMessages {
	return &fakeMessages{byID: map[uuid.UUID]*model.Message{}, contacts: contacts}
}

func (f *fakeMessages) Create(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	m.CreatedAt = time.Now()
	cpy := *m
	f.byID[m.ID] = &cpy
	f.mu.Unlock()
	if f.contacts != nil {
		_, err := f.contacts.SetLastMessage(ctx, m.ContactID, m.ID)
		return err
	}
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id uuid.UUID) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}

func (f *fakeMessages) ListByContact(_ context.Context, contactID uuid.UUID) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0)
	for _, m := range f.byID {
		if m.ContactID == contactID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeMessages) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, id uuid.UUID, p model.StatusPatch) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	m, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if p.Delivered != nil {
		m.Delivered = *p.Delivered
	}
	if p.Read != nil {
		m.Read = *p.Read
	}
	cpy := *m
	return &cpy, nil
}

/************ notifier ************/

type notified struct {
	messageID string
	status    presence.Status
	parties   []string
}

type fakeNotifier struct{ calls []notified }

var _ StatusNotifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) MessageStatus(messageID string, st presence.Status, parties ...string) int {
	n.calls = append(n.calls, notified{messageID: messageID, status: st, parties: parties})
	return len(parties)
}
