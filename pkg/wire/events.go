package wire

import "encoding/json"

// Client → server command types.
const (
	TypeCreateSession = "create_session"
	TypeInvitePlayer  = "invite_player"
	TypeJoinGame      = "join_game"
	TypeCardSelected  = "card_selected"
	TypeCheckCard     = "check_card"
	TypeLeaveGame     = "leave_game"
)

// Server → client event types.
const (
	TypeGameCreated        = "game_created"
	TypeGameInvitation     = "game_invitation"
	TypeGameJoined         = "game_joined"
	TypeSnapshot           = "snapshot"
	TypeCardSelectedUpdate = "card_selected_update"
	TypeCardCheckResult    = "card_check_result"
	TypeRoundStarted       = "round_started"
	TypeSessionComplete    = "session_complete"
	TypeError              = "error"
)

// Envelope carries any frame in either direction. Type selects which payload
// fields are meaningful; unknown types are ignored by both sides.
type Envelope struct {
	Type string `json:"type"`

	// C→S fields
	SenderID    string `json:"sender_id,omitempty"`
	Email       string `json:"email,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	GameID      string `json:"game_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	CardIndex   *int   `json:"card_index,omitempty"`
	// IsCorrect is what the original client asserted about its own guess.
	// The server recomputes the verdict and never reads it.
	IsCorrect *bool `json:"is_correct,omitempty"`

	// S→C fields
	FirstPlayerID string    `json:"first_player_id,omitempty"`
	Score         *int      `json:"score,omitempty"`
	Total         *int      `json:"total,omitempty"`
	Round         *int      `json:"round,omitempty"`
	Code          string    `json:"code,omitempty"`
	Message       string    `json:"message,omitempty"`
	Snapshot      *Snapshot `json:"snapshot,omitempty"`
}

// Snapshot is the full authoritative session view re-sent on every join and
// reconnect; clients rebuild local state from it instead of replaying missed
// events.
type Snapshot struct {
	GameID         string `json:"game_id"`
	State          string `json:"state"`
	Round          int    `json:"round"`
	Score          int    `json:"score"`
	Role           string `json:"role"`
	You            string `json:"you"`
	SelectionReady bool   `json:"selection_ready"`
	AwaitingGuess  bool   `json:"awaiting_guess"`
}

func (e *Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// IntPtr and BoolPtr build optional payload fields.
func IntPtr(n int) *int    { return &n }
func BoolPtr(b bool) *bool { return &b }
