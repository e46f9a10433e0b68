package wire

import "testing"

func TestGameErrorMessagePrecedence(t *testing.T) {
	cases := []struct {
		gerr GameError
		want string
	}{
		{GameError{Code: CodeInvalidTurn, Message: "action out of turn"}, "action out of turn"},
		{GameError{Code: CodeInvalidTurn}, CodeInvalidTurn},
		{GameError{}, "game error"},
	}
	for _, tc := range cases {
		if got := tc.gerr.Error(); got != tc.want {
			t.Fatalf("GameError%+v: got %q, want %q", tc.gerr, got, tc.want)
		}
	}
}
