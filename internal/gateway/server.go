// Package gateway is the server-side transport: it upgrades websockets,
// binds each connection to a verified identity, dispatches wire commands to
// the registry and coordinator, and fans broadcasts out to both connections
// of a session in emit order.
package gateway

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/kapu/telepathy-go/internal/auth"
	"github.com/kapu/telepathy-go/internal/invite"
	"github.com/kapu/telepathy-go/internal/obslog"
	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/internal/session"
	"github.com/kapu/telepathy-go/internal/users"
	"github.com/kapu/telepathy-go/pkg/wire"
)

// Version is stamped by the server binary.
var Version = "dev"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires one websocket endpoint to the game core.
type Server struct {
	registry *session.Registry
	coord    *round.Coordinator
	invites  *invite.Service
	users    users.Directory
	verifier auth.Verifier

	mu        sync.RWMutex
	bySession map[string]map[*client]struct{}
	byEmail   map[string]*client
}

func NewServer(verifier auth.Verifier, dir users.Directory, invites *invite.Service) *Server {
	return &Server{
		invites:   invites,
		users:     dir,
		verifier:  verifier,
		bySession: make(map[string]map[*client]struct{}),
		byEmail:   make(map[string]*client),
	}
}

// Attach wires the core after construction; split out because the registry
// and coordinator need the server as their broadcast sink.
func (s *Server) Attach(reg *session.Registry, coord *round.Coordinator) {
	s.registry = reg
	s.coord = coord
}

// Broadcast implements round.Broadcaster. Events for one session reach every
// connection bound to it, in the order they were emitted; per-connection
// ordering is preserved by the buffered send channel each writePump drains.
func (s *Server) Broadcast(sessionID string, evt *wire.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.bySession[sessionID] {
		if !c.enqueue(evt) {
			// Slow consumer: drop the connection, it will resync from the
			// snapshot on reconnect.
			delete(s.bySession[sessionID], c)
			c.closeSend()
		}
	}
}

func (s *Server) attachToSession(c *client, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.sessionID != "" && c.sessionID != sessionID {
		delete(s.bySession[c.sessionID], c)
	}
	set, ok := s.bySession[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		s.bySession[sessionID] = set
	}
	set[c] = struct{}{}
	c.sessionID = sessionID
}

// unbindSession undoes a speculative bind when the join is rejected, so the
// client stops receiving that session's broadcasts.
func (s *Server) unbindSession(c *client, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.bySession[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.bySession, sessionID)
		}
	}
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
}

func (s *Server) detach(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.sessionID != "" {
		if set, ok := s.bySession[c.sessionID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(s.bySession, c.sessionID)
			}
		}
	}
	c.closeSend()
	email := strings.ToLower(c.identity.Email)
	if email != "" && s.byEmail[email] == c {
		delete(s.byEmail, email)
	}
}

// sendToEmail pushes an event to the invitee's live connection, if any.
func (s *Server) sendToEmail(email string, evt *wire.Envelope) {
	s.mu.RLock()
	c := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if c != nil {
		c.enqueue(evt)
	}
}

// Router exposes the websocket endpoint plus the share/health routes.
func (s *Server) Router() *httprouter.Router {
	mux := httprouter.New()
	mux.GET("/ws", s.serveWS)
	mux.GET("/game/:gameid/qr", s.serveQR)
	mux.GET("/version", serveVersion)
	mux.GET("/healthz", serveHealth)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := r.URL.Query().Get("token")
	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if err := s.users.Upsert(r.Context(), identity.UserID, identity.Email, identity.Name); err != nil {
		obslog.L().Warn("user_upsert_error", zap.String("user_id", identity.UserID), zap.Error(err))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.L().Warn("ws_upgrade_error", zap.Error(err))
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan *wire.Envelope, 16),
		identity: identity,
		srv:      s,
	}
	if email := strings.ToLower(strings.TrimSpace(identity.Email)); email != "" {
		s.mu.Lock()
		s.byEmail[email] = c
		s.mu.Unlock()
	}
	obslog.L().Info("ws_connect",
		zap.String("user_id", identity.UserID),
		zap.String("email", identity.Email),
	)

	go c.writePump()
	c.deliverPendingInvites(r.Context())
	c.readPump()
}

// serveQR renders a PNG QR of the join URL so the creator can hand the
// session to the second player.
func (s *Server) serveQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}
	if _, ok := s.registry.Get(gameID); !ok {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	url := scheme + "://" + r.Host + "/game/" + gameID

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func serveVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("telepathy v" + Version + "\n"))
}

func serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
