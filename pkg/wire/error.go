package wire

// Error codes carried in the error event. Every rejected command maps onto
// one of these; clients treat any of them as a no-op and wait for the next
// authoritative broadcast.
const (
	CodeInvalidTurn     = "invalid_turn"
	CodeInvalidSymbol   = "invalid_symbol"
	CodeSessionNotFound = "session_not_found"
	CodeSessionFull     = "session_full"
	CodeNotAuthorized   = "not_authorized"
	CodeInvalidIdentity = "invalid_identity"
	CodeBadRequest      = "bad_request"
)

// GameError is the wire form of a rejected command.
type GameError struct {
	Code    string
	Message string
}

func (e GameError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game error"
}
