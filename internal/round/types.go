package round

import "errors"

// State is the per-session turn machine position.
type State string

const (
	StateAwaitingSender   State = "awaiting_sender"
	StateAwaitingReceiver State = "awaiting_receiver"
	StateVerdictPending   State = "verdict_pending"
	StateAdvancing        State = "advancing"
	StateComplete         State = "complete"
)

var (
	ErrInvalidTurn     = errors.New("action out of turn")
	ErrInvalidSymbol   = errors.New("symbol index out of range")
	ErrMatchNotFound   = errors.New("no match for session")
	ErrSessionComplete = errors.New("session already complete")
)

// Roles are fixed for the lifetime of a session: the first player always
// selects, the second always guesses.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

const selectionAbsent = -1
