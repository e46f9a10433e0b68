package wire

// Symbols is the fixed ordered card deck shown on both clients. A selection
// or guess is the index into this list.
var Symbols = []string{"◆", "★", "●", "▲", "■", "♥", "♠", "♣"}

// SymbolCount is the valid index range [0, SymbolCount).
const SymbolCount = 8

// RoundsPerSession is how many selection/guess cycles a session plays before
// it completes.
const RoundsPerSession = 10

// ValidSymbol reports whether idx addresses a card.
func ValidSymbol(idx int) bool { return idx >= 0 && idx < SymbolCount }
