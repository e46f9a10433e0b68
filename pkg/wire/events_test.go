package wire

import "testing"

func TestDecodeClientFrame(t *testing.T) {
	raw := []byte(`{"type":"check_card","game_id":"g1","user_id":"bob","card_index":0,"is_correct":true}`)
	evt, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if evt.Type != TypeCheckCard || evt.GameID != "g1" || evt.UserID != "bob" {
		t.Fatalf("decoded wrong: %+v", evt)
	}
	// Index zero must survive as a present field, not a missing one.
	if evt.CardIndex == nil || *evt.CardIndex != 0 {
		t.Fatalf("card_index lost: %+v", evt.CardIndex)
	}
	if evt.IsCorrect == nil || !*evt.IsCorrect {
		t.Fatalf("is_correct lost: %+v", evt.IsCorrect)
	}
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	raw, err := (&Envelope{Type: TypeRoundStarted, Round: IntPtr(0)}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got := string(raw)
	if got != `{"type":"round_started","round":0}` {
		t.Fatalf("unexpected payload: %s", got)
	}
}

func TestValidSymbol(t *testing.T) {
	if len(Symbols) != SymbolCount {
		t.Fatalf("symbol table size %d", len(Symbols))
	}
	for i := 0; i < SymbolCount; i++ {
		if !ValidSymbol(i) {
			t.Fatalf("symbol %d rejected", i)
		}
	}
	for _, i := range []int{-1, SymbolCount, 100} {
		if ValidSymbol(i) {
			t.Fatalf("symbol %d accepted", i)
		}
	}
}
