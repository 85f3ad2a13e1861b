// Package httpserver exposes the REST API and the live websocket endpoint.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/limiter"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/service"
	"github.com/and161185/lexchat/internal/transport/ws"
)

// LiveOptions tune the /ws endpoint.
type LiveOptions struct {
	EchoToSender    bool
	RequireToken    bool
	MaxConnsPerUser int
	LimitMode       limiter.Mode
	AllowedOrigins  []string
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Auth      service.AuthService
	Contacts  service.ContactService
	Messages  service.MessageService
	Tokens    TokenVerifier
	Relay     *presence.Relay
	Transport ws.Config
	Live      LiveOptions
	Log       *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	deps    Deps
	log     *zap.Logger
	conns   *limiter.ConnLimiter
	handler http.Handler

	srv *http.Server

	// live connections; Add on live only while !closing, both under liveMu
	liveMu   sync.Mutex
	closing  bool
	upgraded map[*ws.Conn]struct{}
	live     sync.WaitGroup
}

// New builds the routes and middleware chain.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	s := &Server{deps: deps, log: deps.Log.Named("http"), upgraded: make(map[*ws.Conn]struct{})}

	reg := deps.Relay.Registry()
	s.conns = limiter.NewConnLimiter(deps.Live.MaxConnsPerUser, deps.Live.LimitMode, reg.Count, func(userID string) {
		if c, ok := reg.Oldest(userID); ok {
			s.log.Info("cycling oldest connection", zap.String("user", userID), zap.String("conn", c.ID()))
			c.Close(errs.ErrConnectionCycled)
		}
	})

	authed := RequireAuth(deps.Tokens)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleLive)

	mux.HandleFunc("POST /api/users/register", s.handleRegister)
	mux.HandleFunc("POST /api/users/login", s.handleLogin)
	mux.Handle("GET /api/users/profile", authed(http.HandlerFunc(s.handleProfile)))
	mux.Handle("PATCH /api/users/updateProfile", authed(http.HandlerFunc(s.handleUpdateProfile)))

	mux.Handle("POST /api/contacts", authed(http.HandlerFunc(s.handleCreateContact)))
	mux.Handle("GET /api/contacts/{userId}", authed(http.HandlerFunc(s.handleListContacts)))
	mux.Handle("DELETE /api/contacts/{contactId}", authed(http.HandlerFunc(s.handleDeleteContact)))
	mux.Handle("PATCH /api/contacts/{contactId}/last-message", authed(http.HandlerFunc(s.handleSetLastMessage)))

	mux.Handle("POST /api/messages/send", authed(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("GET /api/messages/{contactId}", authed(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("DELETE /api/messages/{messageId}", authed(http.HandlerFunc(s.handleDeleteMessage)))
	mux.Handle("PATCH /api/messages/{messageId}/status", authed(http.HandlerFunc(s.handleUpdateStatus)))

	s.handler = Chain(mux,
		RequestMetadata(),
		Recover(s.log),
		RequestLogger(s.log),
	)
	s.srv = &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	// Requests keep ctx values but outlive its cancellation so Shutdown can drain them.
	base := context.WithoutCancel(ctx)
	s.srv.BaseContext = func(net.Listener) context.Context { return base }
	s.log.Info("listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every live connection and waits for
// their sessions to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.liveMu.Lock()
	s.closing = true
	s.liveMu.Unlock()

	err := s.srv.Shutdown(ctx)

	s.liveMu.Lock()
	conns := make([]*ws.Conn, 0, len(s.upgraded))
	for c := range s.upgraded {
		conns = append(conns, c)
	}
	s.liveMu.Unlock()
	for _, c := range conns {
		c.Close(nil)
	}

	done := make(chan struct{})
	go func() {
		s.live.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	users, conns := s.deps.Relay.Registry().Stats()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "users": users, "connections": conns})
}

// beginLive reserves a live slot unless the server is shutting down.
func (s *Server) beginLive() bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.closing {
		return false
	}
	s.live.Add(1)
	return true
}

// trackLive records an upgraded connection so Shutdown can close it. It reports false
// once shutdown started; the caller must close the connection then.
func (s *Server) trackLive(c *ws.Conn) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.closing {
		return false
	}
	s.upgraded[c] = struct{}{}
	return true
}

func (s *Server) untrackLive(c *ws.Conn) {
	s.liveMu.Lock()
	delete(s.upgraded, c)
	s.liveMu.Unlock()
}
