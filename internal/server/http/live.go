package httpserver

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/auth"
	"github.com/and161185/lexchat/internal/errs"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/transport/ws"
)

// handleLive authenticates and upgrades a live connection, then runs its session
// until the connection closes.
//
// Query: userId, contacts (comma separated or repeated), token (when no
// Authorization header can be set, as in browsers).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("userId"))

	if err := s.checkLiveToken(r, userID); err != nil {
		writeError(w, err)
		return
	}
	if userID != "" && !s.conns.Admit(userID) {
		s.log.Warn("connection limit reached", zap.String("user", userID))
		writeError(w, errs.ErrTooManyConnections)
		return
	}
	if !s.beginLive() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "server shutting down"})
		return
	}
	defer s.live.Done()

	contacts := s.handshakeContacts(r, q, userID)

	up := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	wsConn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	conn := ws.New(wsConn, s.deps.Transport, s.deps.Log)
	if !s.trackLive(conn) {
		conn.Close(nil)
		conn.Serve(nil, nil)
		return
	}
	defer s.untrackLive(conn)

	sess := presence.NewSession(s.deps.Relay, conn, presence.SessionOptions{EchoToSender: s.deps.Live.EchoToSender}, s.deps.Log)
	if err := sess.Open(presence.Handshake{UserID: userID, Contacts: contacts}); err != nil {
		// The session already closed the connection; Serve flushes the close frame.
		conn.Serve(nil, nil)
		return
	}
	conn.Serve(sess.Handle, func(error) { sess.Close() })
}

// checkLiveToken verifies the bearer token when required or supplied, and that its
// subject is the userId being claimed.
func (s *Server) checkLiveToken(r *http.Request, userID string) error {
	tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		if s.deps.Live.RequireToken {
			return errs.ErrUnauthorized
		}
		return nil
	}
	claims, err := s.deps.Tokens.Verify(tok)
	if err != nil {
		return err
	}
	if userID != "" && claims.Subject != userID {
		return errs.ErrForbidden
	}
	return nil
}

// handshakeContacts returns the contacts named by the client, or the stored
// counterparts when the parameter is absent.
func (s *Server) handshakeContacts(r *http.Request, q url.Values, userID string) []string {
	if raw, ok := q["contacts"]; ok {
		var out []string
		for _, v := range raw {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					out = append(out, id)
				}
			}
		}
		return out
	}
	uid, err := uuid.FromString(userID)
	if err != nil || s.deps.Contacts == nil {
		return nil
	}
	ids, err := s.deps.Contacts.CounterpartIDs(r.Context(), uid)
	if err != nil {
		s.log.Warn("load contacts for handshake", zap.String("user", userID), zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.deps.Live.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.deps.Live.AllowedOrigins {
		if strings.EqualFold(o, origin) || o == "*" {
			return true
		}
	}
	return false
}
