package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/telepathy-go/internal/obslog"
	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/pkg/wire"
	"go.uber.org/zap"
)

// Registry owns every session's lifecycle: creation, slot binding,
// connection tracking, and idle abandonment. Round and score move only
// through coordinator callbacks.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	coord *round.Coordinator
	sink  round.Broadcaster

	idleWindow time.Duration
	now        func() time.Time
}

// RegistryOption tweaks a Registry.
type RegistryOption func(*Registry)

func WithIdleWindow(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleWindow = d }
}

func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(sink round.Broadcaster, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:   make(map[string]*Session),
		sink:       sink,
		idleWindow: 120 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachCoordinator wires the round coordinator. Must be called before the
// first Join; split from the constructor because the coordinator needs the
// registry as its Progress sink.
func (r *Registry) AttachCoordinator(c *round.Coordinator) {
	if r != nil {
		r.coord = c
	}
}

// Create allocates a session with the creator installed in the first slot,
// connection pending.
func (r *Registry) Create(creatorID, email, name string) (*Session, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrInvalidIdentity
	}
	now := r.now()
	s := &Session{
		ID:         "game-" + uuid.NewString(),
		CreatorID:  creatorID,
		First:      PlayerSlot{UserID: creatorID, Email: email, Name: name},
		State:      StateAwaitingSecondPlayer,
		CreatedAt:  now,
		LastActive: now,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	obslog.L().Info("session_create",
		zap.String("game_id", s.ID),
		zap.String("creator_id", creatorID),
	)
	return s, nil
}

// Invite records the intent to admit inviteeEmail as second player. Only the
// creator may invite; actually notifying the invitee is the caller's job
// (the notification channel is an external collaborator).
func (r *Registry) Invite(sessionID, inviteeEmail, inviterID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.State == StateAbandoned {
		return nil, ErrSessionNotFound
	}
	if s.CreatorID != inviterID {
		return nil, ErrNotAuthorized
	}
	s.InvitedEmail = strings.TrimSpace(inviteeEmail)
	s.LastActive = r.now()

	obslog.L().Info("session_invite",
		zap.String("game_id", s.ID),
		zap.String("invitee", s.InvitedEmail),
	)
	cp := *s
	return &cp, nil
}

// Join binds an identity to a slot, or re-binds a returning identity to the
// slot it already owns. The second live binding activates the session and
// starts round 0.
func (r *Registry) Join(sessionID, userID, email, name string) (round.Role, *wire.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, ErrInvalidIdentity
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok || s.State == StateAbandoned {
		r.mu.Unlock()
		return "", nil, ErrSessionNotFound
	}
	s.LastActive = r.now()

	var role round.Role
	activated := false
	switch {
	case s.First.UserID == userID:
		s.First.Connected = true
		role = round.RoleSender
	case s.Second.UserID == userID:
		s.Second.Connected = true
		role = round.RoleReceiver
	case !s.Second.bound():
		s.Second = PlayerSlot{UserID: userID, Email: email, Name: name, Connected: true}
		role = round.RoleReceiver
	default:
		r.mu.Unlock()
		return "", nil, ErrSessionFull
	}

	if s.State == StateAwaitingSecondPlayer && s.First.Connected && s.Second.Connected {
		s.State = StateActive
		activated = true
	}
	firstID := s.First.UserID
	secondID := s.Second.UserID
	r.mu.Unlock()

	obslog.L().Info("session_join",
		zap.String("game_id", sessionID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.Bool("activated", activated),
	)

	if activated {
		r.sink.Broadcast(sessionID, &wire.Envelope{
			Type:          wire.TypeGameJoined,
			GameID:        sessionID,
			FirstPlayerID: firstID,
		})
		r.coord.Start(sessionID, firstID, secondID)
	}

	return role, r.Snapshot(sessionID, userID), nil
}

// Leave marks the identity's connection absent. The slot is kept so the
// identity retains its role for reconnection. Duplicate leaves are no-ops.
func (r *Registry) Leave(sessionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	switch userID {
	case s.First.UserID:
		if !s.First.Connected {
			return
		}
		s.First.Connected = false
	case s.Second.UserID:
		if !s.Second.Connected {
			return
		}
		s.Second.Connected = false
	default:
		return
	}
	s.LastActive = r.now()
	obslog.L().Info("session_leave",
		zap.String("game_id", sessionID),
		zap.String("user_id", userID),
	)
}

// RoundAdvanced implements round.Progress: it mirrors the coordinator's
// authoritative round index and score onto the session record.
func (r *Registry) RoundAdvanced(sessionID string, roundIdx, score int, complete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.Round = roundIdx
	s.Score = score
	s.LastActive = r.now()
	if complete {
		s.State = StateComplete
	}
}

// Snapshot assembles the full authoritative view re-sent to a (re)joining
// client. Nil when the session is unknown.
func (r *Registry) Snapshot(sessionID, userID string) *wire.Snapshot {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	snap := &wire.Snapshot{
		GameID: s.ID,
		State:  string(s.State),
		Round:  s.Round,
		Score:  s.Score,
		You:    userID,
	}
	if s.First.UserID == userID {
		snap.Role = string(round.RoleSender)
	} else if s.Second.UserID == userID {
		snap.Role = string(round.RoleReceiver)
	}
	r.mu.RUnlock()

	if v, ok := r.coord.Snapshot(sessionID); ok {
		snap.Round = v.Round
		snap.Score = v.Score
		snap.SelectionReady = v.SelectionReady
		snap.AwaitingGuess = v.AwaitingGuess
	}
	return snap
}

// Get returns a copy of the session record.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ReapIdle marks sessions abandoned when a bound slot has been disconnected
// for longer than the idle window, and evicts terminal records one window
// after they become complete or abandoned. Nothing outlives a session plus
// its grace period. Returns the newly abandoned session ids.
func (r *Registry) ReapIdle() []string {
	cutoff := r.now().Add(-r.idleWindow)

	r.mu.Lock()
	var gone, evicted []string
	for id, s := range r.sessions {
		switch s.State {
		case StateComplete, StateAbandoned:
			// The record lingers one more window so late snapshot and join
			// attempts get a definite answer instead of a silent miss.
			if s.LastActive.Before(cutoff) {
				delete(r.sessions, id)
				evicted = append(evicted, id)
			}
		case StateActive, StateAwaitingSecondPlayer:
			disconnected := (s.First.bound() && !s.First.Connected) ||
				(s.Second.bound() && !s.Second.Connected)
			if disconnected && s.LastActive.Before(cutoff) {
				s.State = StateAbandoned
				s.LastActive = r.now()
				gone = append(gone, id)
			}
		}
	}
	r.mu.Unlock()

	for _, id := range gone {
		r.coord.Abandon(id)
		obslog.L().Warn("session_abandoned", zap.String("game_id", id))
	}
	for _, id := range evicted {
		r.coord.Abandon(id)
		obslog.L().Info("session_evicted", zap.String("game_id", id))
	}
	return gone
}

// StartReaper runs ReapIdle on a ticker until ctx is done.
func (r *Registry) StartReaper(ctx context.Context) {
	interval := r.idleWindow / 2
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.ReapIdle()
			}
		}
	}()
}
