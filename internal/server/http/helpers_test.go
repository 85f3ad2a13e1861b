package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/lexchat/internal/auth"
	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/limiter"
	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/service"
	"github.com/and161185/lexchat/internal/transport/ws"
)

/************ fake services ************/

type fakeAuth struct {
	users    map[uuid.UUID]*model.User
	tokens   *auth.Manager
	loginErr error
	lastAddr string
	ctxErr   error // request context state seen by Register
}

var _ service.AuthService = (*fakeAuth)(nil)

func (f *fakeAuth) Register(ctx context.Context, in service.RegisterInput) (*model.User, error) {
	f.ctxErr = ctx.Err()
	if in.Password == "" {
		return nil, errs.ErrInvalidArgument
	}
	for _, u := range f.users {
		if u.Email == in.Email {
			return nil, errs.ErrAlreadyExists
		}
	}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), FirstName: in.FirstName, LastName: in.LastName, Email: in.Email, Role: "user"}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeAuth) Login(_ context.Context, email, _, remoteAddr string) (model.Tokens, model.User, error) {
	f.lastAddr = remoteAddr
	if f.loginErr != nil {
		return model.Tokens{}, model.User{}, f.loginErr
	}
	for _, u := range f.users {
		if u.Email == email {
			tok, err := f.tokens.Issue(u.ID, u.Role)
			return tok, *u, err
		}
	}
	return model.Tokens{}, model.User{}, errs.ErrUnauthorized
}

func (f *fakeAuth) Profile(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

func (f *fakeAuth) UpdateProfile(_ context.Context, id uuid.UUID, p model.ProfilePatch) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if p.Empty() {
		return nil, errs.ErrInvalidArgument
	}
	if p.TouchesPractice() && u.Role != model.RoleLawyer {
		return nil, errs.ErrForbidden
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.PracticeAreas != nil {
		u.PracticeAreas = *p.PracticeAreas
	}
	if p.Experience != nil {
		u.Experience = *p.Experience
	}
	if p.Location != nil {
		u.Location = *p.Location
	}
	return u, nil
}

type fakeContacts struct {
	mu           sync.Mutex
	counterparts map[uuid.UUID][]uuid.UUID
	created      bool
	lastCreate   [3]uuid.UUID
}

var _ service.ContactService = (*fakeContacts)(nil)

func (f *fakeContacts) Create(_ context.Context, caller, u1, u2 uuid.UUID) (*model.Contact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = [3]uuid.UUID{caller, u1, u2}
	if caller != u1 && caller != u2 {
		return nil, false, errs.ErrForbidden
	}
	created := !f.created
	f.created = true
	return &model.Contact{ID: uuid.Must(uuid.NewV4()), User1: u1, User2: u2}, created, nil
}

func (f *fakeContacts) List(_ context.Context, caller, userID uuid.UUID) ([]model.ContactView, error) {
	if caller != userID {
		return nil, errs.ErrForbidden
	}
	return []model.ContactView{}, nil
}

func (f *fakeContacts) Delete(context.Context, uuid.UUID, uuid.UUID) error { return errs.ErrNotFound }

func (f *fakeContacts) SetLastMessage(_ context.Context, _, contactID, messageID uuid.UUID) (*model.Contact, error) {
	return &model.Contact{ID: contactID, LastMessageID: uuid.NullUUID{UUID: messageID, Valid: true}}, nil
}

func (f *fakeContacts) CounterpartIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counterparts[userID], nil
}

type fakeMessages struct {
	lastPatch model.StatusPatch
	lastSend  service.SendInput
}

var _ service.MessageService = (*fakeMessages)(nil)

func (f *fakeMessages) Send(_ context.Context, caller uuid.UUID, in service.SendInput) (*model.Message, error) {
	if caller != in.SenderID {
		return nil, errs.ErrForbidden
	}
	f.lastSend = in
	return &model.Message{ID: uuid.Must(uuid.NewV4()), ContactID: in.ContactID, SenderID: in.SenderID,
		ReceiverID: in.ReceiverID, Content: in.Content, FileURLs: in.FileURLs}, nil
}

func (f *fakeMessages) List(context.Context, uuid.UUID, uuid.UUID) ([]model.Message, error) {
	return []model.Message{}, nil
}

func (f *fakeMessages) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (f *fakeMessages) UpdateStatus(_ context.Context, _, id uuid.UUID, p model.StatusPatch) (*model.Message, error) {
	if p.Empty() {
		return nil, errs.ErrInvalidArgument
	}
	f.lastPatch = p
	m := &model.Message{ID: id}
	if p.Delivered != nil {
		m.Delivered = *p.Delivered
	}
	if p.Read != nil {
		m.Read = *p.Read
	}
	return m, nil
}

/************ harness ************/

type harness struct {
	srv      *Server
	ts       *httptest.Server
	tokens   *auth.Manager
	auth     *fakeAuth
	contacts *fakeContacts
	messages *fakeMessages
	relay    *presence.Relay
}

func newHarness(t *testing.T, live LiveOptions) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	tokens := auth.NewManager([]byte("test-secret"), time.Hour)
	h := &harness{
		tokens:   tokens,
		auth:     &fakeAuth{users: map[uuid.UUID]*model.User{}, tokens: tokens},
		contacts: &fakeContacts{counterparts: map[uuid.UUID][]uuid.UUID{}},
		messages: &fakeMessages{},
		relay:    presence.NewRelay(presence.NewRegistry(), log),
	}
	if live.LimitMode == "" {
		live.LimitMode = limiter.ModeReject
	}
	h.srv = New(Deps{
		Auth:      h.auth,
		Contacts:  h.contacts,
		Messages:  h.messages,
		Tokens:    tokens,
		Relay:     h.relay,
		Transport: ws.Config{ReadTimeout: 5 * time.Second},
		Live:      live,
		Log:       log,
	})
	h.ts = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(ctx)
		h.ts.Close()
	})
	return h
}

func (h *harness) token(t *testing.T, id uuid.UUID) string {
	t.Helper()
	tok, err := h.tokens.Issue(id, "user")
	require.NoError(t, err)
	return tok.AccessToken
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (h *harness) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws?" + query
}

// dial opens a live connection as id with the given contacts.
func (h *harness) dial(t *testing.T, id uuid.UUID, contacts ...uuid.UUID) *websocket.Conn {
	t.Helper()
	q := "userId=" + id.String() + "&contacts=" + joinIDs(contacts)
	hdr := http.Header{"Authorization": {"Bearer " + h.token(t, id)}}
	c, resp, err := websocket.DefaultDialer.Dial(h.wsURL(q), hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func joinIDs(ids []uuid.UUID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return strings.Join(s, ",")
}

func readEvent(t *testing.T, c *websocket.Conn) presence.Event {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev presence.Event
	require.NoError(t, c.ReadJSON(&ev))
	return ev
}

func sendEvent(t *testing.T, c *websocket.Conn, name string, payload any) {
	t.Helper()
	ev, err := presence.NewEvent(name, payload)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(ev))
}

func payloadStrings(t *testing.T, ev presence.Event) []string {
	t.Helper()
	var out []string
	require.NoError(t, json.Unmarshal(ev.Payload, &out))
	return out
}

func payloadString(t *testing.T, ev presence.Event) string {
	t.Helper()
	var out string
	require.NoError(t, json.Unmarshal(ev.Payload, &out))
	return out
}

// waitConns polls until the registry reports want live connections for id.
func waitConns(t *testing.T, reg *presence.Registry, id uuid.UUID, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Count(id.String()) == want },
		2*time.Second, 10*time.Millisecond, "connections of %s", id)
}
