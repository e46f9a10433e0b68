package session

import (
	"errors"
	"time"
)

// Lifecycle is the registry-owned session state, distinct from the turn
// machine inside the coordinator.
type Lifecycle string

const (
	StateAwaitingSecondPlayer Lifecycle = "awaiting_second_player"
	StateActive               Lifecycle = "active"
	StateComplete             Lifecycle = "complete"
	StateAbandoned            Lifecycle = "abandoned"
)

var (
	ErrInvalidIdentity = errors.New("identity must not be empty")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session already has two players")
	ErrNotAuthorized   = errors.New("only the creator may invite")
)

// PlayerSlot binds one identity to a session. The slot survives disconnects
// so the identity keeps its role across reconnections; only Connected flips.
type PlayerSlot struct {
	UserID    string
	Email     string
	Name      string
	Connected bool
}

func (s *PlayerSlot) bound() bool { return s != nil && s.UserID != "" }

// Session is one two-player game instance. Round and Score mirror the
// coordinator's authoritative values and are written only through
// RoundAdvanced.
type Session struct {
	ID        string
	CreatorID string

	First  PlayerSlot
	Second PlayerSlot

	State Lifecycle
	Round int
	Score int

	InvitedEmail string

	CreatedAt  time.Time
	LastActive time.Time
}
