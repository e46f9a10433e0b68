// Package view derives what the local player may currently do from the
// server's broadcasts. It is a pure projection: it never computes verdicts,
// never advances rounds, and treats every rejected action as a no-op to be
// corrected by the next authoritative event.
package view

import (
	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/pkg/wire"
)

// State is the reconciled local view for one connected client.
type State struct {
	UserID string
	GameID string
	Role   round.Role

	Round int
	Score int

	// CanPick is true when the local player may submit a symbol right now:
	// the sender before selecting, the receiver once a selection is ready.
	CanPick bool
	// Waiting shows the "waiting for the other player" indicator.
	Waiting bool
	// SelectionReady means the sender's pick exists server-side this round.
	SelectionReady bool

	Done       bool
	FinalScore int

	Connected bool
}

// New returns the view for a client before any server event arrives.
func New(userID string) *State {
	return &State{UserID: userID}
}

// Apply folds one server event into the view.
func (s *State) Apply(evt *wire.Envelope) {
	if evt == nil {
		return
	}
	switch evt.Type {
	case wire.TypeGameJoined:
		s.GameID = evt.GameID
		if evt.FirstPlayerID == s.UserID {
			s.Role = round.RoleSender
		} else {
			s.Role = round.RoleReceiver
		}

	case wire.TypeSnapshot:
		if evt.Snapshot == nil {
			return
		}
		s.applySnapshot(evt.Snapshot)

	case wire.TypeRoundStarted:
		if evt.Round != nil {
			s.Round = *evt.Round
		}
		s.SelectionReady = false
		s.CanPick = s.Role == round.RoleSender
		s.Waiting = s.Role == round.RoleReceiver

	case wire.TypeCardSelectedUpdate:
		s.SelectionReady = true
		if s.Role == round.RoleReceiver {
			s.CanPick = true
			s.Waiting = false
		} else {
			s.CanPick = false
			s.Waiting = true
		}

	case wire.TypeCardCheckResult:
		if evt.IsCorrect != nil && *evt.IsCorrect {
			s.Score++
		}
		// Verdict shown; nobody may act until the server starts the next
		// round or completes the session.
		s.CanPick = false
		s.Waiting = true

	case wire.TypeSessionComplete:
		s.Done = true
		s.CanPick = false
		s.Waiting = false
		if evt.Score != nil {
			s.Score = *evt.Score
			s.FinalScore = *evt.Score
		}
	}
}

func (s *State) applySnapshot(snap *wire.Snapshot) {
	s.GameID = snap.GameID
	s.Round = snap.Round
	s.Score = snap.Score
	s.SelectionReady = snap.SelectionReady
	if snap.Role != "" {
		s.Role = round.Role(snap.Role)
	}
	s.Done = snap.State == "complete"
	if s.Done {
		s.FinalScore = snap.Score
		s.CanPick = false
		s.Waiting = false
		return
	}
	switch s.Role {
	case round.RoleSender:
		s.CanPick = !snap.SelectionReady && snap.State == "active"
		s.Waiting = snap.SelectionReady
	case round.RoleReceiver:
		s.CanPick = snap.AwaitingGuess
		s.Waiting = !snap.AwaitingGuess
	}
}

// SetConnected tracks the transport lifecycle; a disconnected view keeps its
// last known state but offers no affordances.
func (s *State) SetConnected(up bool) {
	s.Connected = up
	if !up {
		s.CanPick = false
	}
}

// Pick emits the role-appropriate request for a locally chosen symbol, or
// false when picking is not currently allowed. The receiver's request never
// carries a self-computed correctness flag; the server decides the verdict.
func (s *State) Pick(symbol int) (*wire.Envelope, bool) {
	if !s.CanPick || !wire.ValidSymbol(symbol) {
		return nil, false
	}
	typ := wire.TypeCardSelected
	if s.Role == round.RoleReceiver {
		typ = wire.TypeCheckCard
	}
	return &wire.Envelope{
		Type:      typ,
		GameID:    s.GameID,
		UserID:    s.UserID,
		CardIndex: wire.IntPtr(symbol),
	}, true
}
