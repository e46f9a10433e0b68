package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kapu/telepathy-go/internal/auth"
	"github.com/kapu/telepathy-go/internal/obslog"
	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/internal/session"
	"github.com/kapu/telepathy-go/pkg/wire"
)

const commandTimeout = 10 * time.Second

type client struct {
	conn     *websocket.Conn
	send     chan *wire.Envelope
	identity auth.Identity

	// sessionID is the session this connection is bound to for broadcasts
	// and for the implicit leave on disconnect. Guarded by srv.mu.
	sessionID string

	sendMu     sync.Mutex
	sendClosed bool

	srv *Server
}

// enqueue hands an event to the write pump; false means the connection is
// gone or too slow to keep.
func (c *client) enqueue(evt *wire.Envelope) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for evt := range c.send {
		raw, err := evt.Marshal()
		if err != nil {
			obslog.L().Error("event_marshal_error", zap.String("type", evt.Type), zap.Error(err))
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		sessionID := c.sessionID
		c.srv.detach(c)
		_ = c.conn.Close()
		// A transport drop is a leave, never an abort of an accepted action.
		if sessionID != "" {
			c.srv.registry.Leave(sessionID, c.identity.UserID)
		}
		obslog.L().Info("ws_disconnect", zap.String("user_id", c.identity.UserID))
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := wire.Decode(raw)
		if err != nil {
			c.sendError(wire.GameError{Code: wire.CodeBadRequest, Message: "malformed frame"})
			continue
		}
		c.dispatch(evt)
	}
}

// dispatch runs one command to completion, including its broadcasts, before
// the next frame from this connection is read.
func (c *client) dispatch(evt *wire.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch evt.Type {
	case wire.TypeCreateSession:
		c.handleCreate()
	case wire.TypeInvitePlayer:
		c.handleInvite(ctx, evt)
	case wire.TypeJoinGame:
		c.handleJoin(ctx, evt)
	case wire.TypeCardSelected:
		if evt.CardIndex == nil {
			c.sendError(wire.GameError{Code: wire.CodeBadRequest, Message: "card_index required"})
			return
		}
		c.reject(c.srv.coord.Select(evt.GameID, c.identity.UserID, *evt.CardIndex))
	case wire.TypeCheckCard:
		if evt.CardIndex == nil {
			c.sendError(wire.GameError{Code: wire.CodeBadRequest, Message: "card_index required"})
			return
		}
		// The is_correct flag some clients send along is discarded; the
		// coordinator recomputes the verdict from its own selection.
		c.reject(c.srv.coord.Guess(evt.GameID, c.identity.UserID, *evt.CardIndex))
	case wire.TypeLeaveGame:
		c.srv.registry.Leave(evt.GameID, c.identity.UserID)
	default:
		// ignore unknown types
	}
}

func (c *client) handleCreate() {
	s, err := c.srv.registry.Create(c.identity.UserID, c.identity.Email, c.identity.Name)
	if err != nil {
		c.reject(err)
		return
	}
	c.srv.attachToSession(c, s.ID)
	c.enqueue(&wire.Envelope{Type: wire.TypeGameCreated, GameID: s.ID})
}

func (c *client) handleInvite(ctx context.Context, evt *wire.Envelope) {
	s, err := c.srv.registry.Invite(evt.GameID, evt.Email, c.identity.UserID)
	if err != nil {
		c.reject(err)
		return
	}
	senderEmail := evt.SenderEmail
	if senderEmail == "" {
		senderEmail = c.identity.Email
	}
	if err := c.srv.invites.Send(ctx, s.InvitedEmail, s.ID, senderEmail); err != nil {
		obslog.L().Error("invite_send_error",
			zap.String("game_id", s.ID),
			zap.String("invitee", s.InvitedEmail),
			zap.Error(err),
		)
	}
	if inviteeID, err := c.srv.users.IDByEmail(ctx, s.InvitedEmail); err == nil {
		obslog.L().Info("invite_recipient_known",
			zap.String("game_id", s.ID),
			zap.String("invitee_id", inviteeID),
		)
	}
	// If the invitee is already connected, push the invitation live.
	c.srv.sendToEmail(s.InvitedEmail, &wire.Envelope{
		Type:        wire.TypeGameInvitation,
		GameID:      s.ID,
		SenderEmail: senderEmail,
	})
}

func (c *client) handleJoin(ctx context.Context, evt *wire.Envelope) {
	// Bind the connection before joining so the activation broadcasts reach
	// this client too.
	c.srv.attachToSession(c, evt.GameID)
	_, snap, err := c.srv.registry.Join(evt.GameID, c.identity.UserID, c.identity.Email, c.identity.Name)
	if err != nil {
		c.srv.unbindSession(c, evt.GameID)
		c.reject(err)
		return
	}
	if snap != nil {
		c.enqueue(&wire.Envelope{Type: wire.TypeSnapshot, GameID: snap.GameID, Snapshot: snap})
	}
	if c.identity.Email != "" {
		if err := c.srv.invites.Consume(ctx, c.identity.Email, evt.GameID); err != nil {
			obslog.L().Warn("invite_consume_error", zap.String("game_id", evt.GameID), zap.Error(err))
		}
	}
}

func (c *client) deliverPendingInvites(ctx context.Context) {
	if c.identity.Email == "" {
		return
	}
	pending, err := c.srv.invites.PendingFor(ctx, c.identity.Email)
	if err != nil {
		obslog.L().Warn("invite_lookup_error", zap.String("email", c.identity.Email), zap.Error(err))
		return
	}
	for _, inv := range pending {
		c.enqueue(&wire.Envelope{
			Type:        wire.TypeGameInvitation,
			GameID:      inv.GameID,
			SenderEmail: inv.SenderEmail,
		})
	}
}

// reject maps a core error onto the wire taxonomy; nil errors pass through.
func (c *client) reject(err error) {
	if err == nil {
		return
	}
	c.sendError(wire.GameError{Code: errorCode(err), Message: err.Error()})
}

func (c *client) sendError(gerr wire.GameError) {
	c.enqueue(&wire.Envelope{Type: wire.TypeError, Code: gerr.Code, Message: gerr.Message})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, round.ErrInvalidTurn):
		return wire.CodeInvalidTurn
	case errors.Is(err, round.ErrInvalidSymbol):
		return wire.CodeInvalidSymbol
	case errors.Is(err, session.ErrSessionFull):
		return wire.CodeSessionFull
	case errors.Is(err, session.ErrNotAuthorized):
		return wire.CodeNotAuthorized
	case errors.Is(err, session.ErrInvalidIdentity):
		return wire.CodeInvalidIdentity
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, round.ErrMatchNotFound),
		errors.Is(err, round.ErrSessionComplete):
		// Terminal sessions reject like unknown ones.
		return wire.CodeSessionNotFound
	default:
		return wire.CodeBadRequest
	}
}
