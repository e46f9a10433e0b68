package round

import (
	"sync"
	"time"

	"github.com/kapu/telepathy-go/internal/obslog"
	"github.com/kapu/telepathy-go/pkg/wire"
	"go.uber.org/zap"
)

// Broadcaster pushes an event to both connections of a session, preserving
// emit order per session. The gateway implements it; tests use a recorder.
type Broadcaster interface {
	Broadcast(sessionID string, evt *wire.Envelope)
}

// Progress receives authoritative round/score updates so the session record
// stays in sync. The registry implements it.
type Progress interface {
	RoundAdvanced(sessionID string, roundIdx, score int, complete bool)
}

// Coordinator owns the turn state machine of every active session. All
// operations on one session serialize on that session's match mutex; distinct
// sessions proceed independently.
type Coordinator struct {
	mu      sync.RWMutex
	matches map[string]*match

	sink     Broadcaster
	progress Progress

	advanceDelay time.Duration
	now          func() time.Time
	schedule     func(d time.Duration, f func()) (cancel func())
}

type match struct {
	mu sync.Mutex

	sessionID  string
	senderID   string
	receiverID string

	state     State
	roundIdx  int
	score     int
	selection int
	guess     int

	cancelAdvance func()
}

// Option tweaks a Coordinator; used by tests to inject a virtual clock.
type Option func(*Coordinator)

func WithAdvanceDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.advanceDelay = d }
}

func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithScheduler replaces the delayed-advance timer. The returned cancel func
// must be safe to call after the task has fired.
func WithScheduler(schedule func(d time.Duration, f func()) (cancel func())) Option {
	return func(c *Coordinator) { c.schedule = schedule }
}

func NewCoordinator(sink Broadcaster, progress Progress, opts ...Option) *Coordinator {
	c := &Coordinator{
		matches:      make(map[string]*match),
		sink:         sink,
		progress:     progress,
		advanceDelay: 2 * time.Second,
		now:          time.Now,
	}
	c.schedule = func(d time.Duration, f func()) func() {
		t := time.AfterFunc(d, f)
		return func() { t.Stop() }
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates round 0 for a freshly activated session and announces it.
func (c *Coordinator) Start(sessionID, senderID, receiverID string) {
	m := &match{
		sessionID:  sessionID,
		senderID:   senderID,
		receiverID: receiverID,
		state:      StateAwaitingSender,
		selection:  selectionAbsent,
		guess:      selectionAbsent,
	}
	c.mu.Lock()
	c.matches[sessionID] = m
	c.mu.Unlock()

	obslog.L().Info("match_start",
		zap.String("game_id", sessionID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
	)
	c.sink.Broadcast(sessionID, &wire.Envelope{Type: wire.TypeRoundStarted, Round: wire.IntPtr(0)})
}

// Select records the sender's secret pick. Both clients learn that a
// selection exists; only the server knows its value until the verdict.
func (c *Coordinator) Select(sessionID, userID string, symbol int) error {
	m, err := c.match(sessionID)
	if err != nil {
		return err
	}
	if !wire.ValidSymbol(symbol) {
		return ErrInvalidSymbol
	}

	m.mu.Lock()
	if m.state == StateComplete {
		m.mu.Unlock()
		return ErrSessionComplete
	}
	if m.state != StateAwaitingSender || userID != m.senderID {
		m.mu.Unlock()
		return ErrInvalidTurn
	}
	m.selection = symbol
	m.state = StateAwaitingReceiver

	obslog.L().Info("card_selected",
		zap.String("game_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("round", m.roundIdx),
	)
	// Broadcast under the match lock so per-session emit order is strict.
	// Symbol value withheld: receivers only see that a selection exists.
	c.sink.Broadcast(sessionID, &wire.Envelope{Type: wire.TypeCardSelectedUpdate, UserID: userID})
	m.mu.Unlock()
	return nil
}

// Guess resolves the receiver's pick against the stored selection. The
// verdict is always recomputed here; any correctness flag a client asserts
// on the wire is discarded before this point.
func (c *Coordinator) Guess(sessionID, userID string, symbol int) error {
	m, err := c.match(sessionID)
	if err != nil {
		return err
	}
	if !wire.ValidSymbol(symbol) {
		return ErrInvalidSymbol
	}

	m.mu.Lock()
	if m.state == StateComplete {
		m.mu.Unlock()
		return ErrSessionComplete
	}
	if m.state != StateAwaitingReceiver || userID != m.receiverID {
		m.mu.Unlock()
		return ErrInvalidTurn
	}
	m.guess = symbol
	correct := symbol == m.selection
	if correct {
		m.score++
	}
	m.state = StateVerdictPending
	m.cancelAdvance = c.schedule(c.advanceDelay, func() { c.advance(sessionID) })

	obslog.L().Info("card_checked",
		zap.String("game_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("round", m.roundIdx),
		zap.Bool("correct", correct),
		zap.Int("score", m.score),
	)
	c.sink.Broadcast(sessionID, &wire.Envelope{
		Type:      wire.TypeCardCheckResult,
		IsCorrect: wire.BoolPtr(correct),
		CardIndex: wire.IntPtr(m.selection),
	})
	m.mu.Unlock()
	return nil
}

// advance runs once per round, a fixed delay after the verdict broadcast.
// Never client-invocable. A leave during the delay does not cancel it;
// only abandonment does.
func (c *Coordinator) advance(sessionID string) {
	m, err := c.match(sessionID)
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.state != StateVerdictPending {
		m.mu.Unlock()
		return
	}
	m.state = StateAdvancing
	m.roundIdx++
	m.selection = selectionAbsent
	m.guess = selectionAbsent
	complete := m.roundIdx >= wire.RoundsPerSession
	if complete {
		m.state = StateComplete
	} else {
		m.state = StateAwaitingSender
	}
	roundIdx, score := m.roundIdx, m.score
	m.cancelAdvance = nil

	if c.progress != nil {
		c.progress.RoundAdvanced(sessionID, roundIdx, score, complete)
	}
	if complete {
		obslog.L().Info("match_complete",
			zap.String("game_id", sessionID),
			zap.Int("score", score),
		)
		c.sink.Broadcast(sessionID, &wire.Envelope{
			Type:  wire.TypeSessionComplete,
			Score: wire.IntPtr(score),
			Total: wire.IntPtr(wire.RoundsPerSession),
		})
	} else {
		c.sink.Broadcast(sessionID, &wire.Envelope{Type: wire.TypeRoundStarted, Round: wire.IntPtr(roundIdx)})
	}
	m.mu.Unlock()
}

// Abandon drops the match and cancels any pending advance. Called by the
// registry when the idle window expires.
func (c *Coordinator) Abandon(sessionID string) {
	c.mu.Lock()
	m, ok := c.matches[sessionID]
	if ok {
		delete(c.matches, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	cancel := m.cancelAdvance
	m.cancelAdvance = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	obslog.L().Info("match_abandoned", zap.String("game_id", sessionID))
}

// View is the coordinator's contribution to a session snapshot.
type View struct {
	State          State
	Round          int
	Score          int
	SelectionReady bool
	AwaitingGuess  bool
}

// Snapshot reports the current match position for (re)joining clients.
func (c *Coordinator) Snapshot(sessionID string) (View, bool) {
	m, err := c.match(sessionID)
	if err != nil {
		return View{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:          m.state,
		Round:          m.roundIdx,
		Score:          m.score,
		SelectionReady: m.selection != selectionAbsent,
		AwaitingGuess:  m.state == StateAwaitingReceiver,
	}, true
}

// RoleOf reports which fixed role a user holds in the session's match.
func (c *Coordinator) RoleOf(sessionID, userID string) (Role, bool) {
	m, err := c.match(sessionID)
	if err != nil {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch userID {
	case m.senderID:
		return RoleSender, true
	case m.receiverID:
		return RoleReceiver, true
	}
	return "", false
}

func (c *Coordinator) match(sessionID string) (*match, error) {
	c.mu.RLock()
	m, ok := c.matches[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}
