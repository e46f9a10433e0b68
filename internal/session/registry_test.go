package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kapu/telepathy-go/internal/round"
	"github.com/kapu/telepathy-go/pkg/wire"
)

type recorder struct {
	mu   sync.Mutex
	evts []*wire.Envelope
}

func (r *recorder) Broadcast(_ string, evt *wire.Envelope) {
	r.mu.Lock()
	r.evts = append(r.evts, evt)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evts))
	for i, e := range r.evts {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	reg   *Registry
	coord *round.Coordinator
	sink  *recorder
	now   time.Time
	tasks []func()
	mu    sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) schedule(_ time.Duration, fn func()) func() {
	f.mu.Lock()
	f.tasks = append(f.tasks, fn)
	f.mu.Unlock()
	return func() {}
}

// fire runs every scheduled coordinator task.
func (f *fixture) fire() {
	f.mu.Lock()
	pending := f.tasks
	f.tasks = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sink: &recorder{}, now: time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)}
	f.reg = NewRegistry(f.sink, WithNow(f.clock))
	f.coord = round.NewCoordinator(f.sink, f.reg, round.WithScheduler(f.schedule))
	f.reg.AttachCoordinator(f.coord)
	return f
}

func activeSession(t *testing.T, f *fixture) *Session {
	t.Helper()
	s, err := f.reg.Create("alice", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := f.reg.Join(s.ID, "alice", "alice@example.com", "Alice"); err != nil {
		t.Fatalf("creator Join: %v", err)
	}
	if _, _, err := f.reg.Join(s.ID, "bob", "bob@example.com", "Bob"); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	return s
}

func TestCreateRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Create("", "", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestCreateAwaitsSecondPlayer(t *testing.T) {
	f := newFixture(t)
	s, err := f.reg.Create("alice", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, ok := f.reg.Get(s.ID)
	if !ok || got.State != StateAwaitingSecondPlayer {
		t.Fatalf("expected awaiting_second_player, got %+v", got)
	}
	if got.First.UserID != "alice" {
		t.Fatalf("creator not in first slot: %+v", got.First)
	}
}

func TestInviteOnlyByCreator(t *testing.T) {
	f := newFixture(t)
	s, _ := f.reg.Create("alice", "alice@example.com", "Alice")

	if _, err := f.reg.Invite(s.ID, "bob@example.com", "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := f.reg.Invite("nope", "bob@example.com", "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	cp, err := f.reg.Invite(s.ID, "bob@example.com", "alice")
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if cp.InvitedEmail != "bob@example.com" {
		t.Fatalf("invitee not recorded: %+v", cp)
	}
}

func TestSecondJoinActivates(t *testing.T) {
	f := newFixture(t)
	s, _ := f.reg.Create("alice", "alice@example.com", "Alice")

	role, _, err := f.reg.Join(s.ID, "alice", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("creator Join: %v", err)
	}
	if role != round.RoleSender {
		t.Fatalf("creator should be sender, got %s", role)
	}
	if got, _ := f.reg.Get(s.ID); got.State != StateAwaitingSecondPlayer {
		t.Fatalf("activated with one connection: %s", got.State)
	}

	role, snap, err := f.reg.Join(s.ID, "bob", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if role != round.RoleReceiver {
		t.Fatalf("second player should be receiver, got %s", role)
	}
	if snap == nil || snap.Role != string(round.RoleReceiver) {
		t.Fatalf("join snapshot wrong: %+v", snap)
	}
	if got, _ := f.reg.Get(s.ID); got.State != StateActive {
		t.Fatalf("expected active, got %s", got.State)
	}

	types := f.sink.types()
	if len(types) != 2 || types[0] != wire.TypeGameJoined || types[1] != wire.TypeRoundStarted {
		t.Fatalf("activation broadcasts wrong: %v", types)
	}
	f.sink.mu.Lock()
	joined := f.sink.evts[0]
	f.sink.mu.Unlock()
	if joined.FirstPlayerID != "alice" {
		t.Fatalf("first_player_id wrong: %+v", joined)
	}
}

func TestThirdIdentityRejected(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)
	if _, _, err := f.reg.Join(s.ID, "carol", "carol@example.com", "Carol"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.reg.Join("nope", "alice", "", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, _, err := f.reg.Join("nope", "", "", ""); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestRejoinKeepsRoleAndState(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)

	f.reg.Leave(s.ID, "bob")
	if got, _ := f.reg.Get(s.ID); got.Second.Connected {
		t.Fatal("leave did not disconnect the slot")
	}
	// State survives the disconnect.
	if got, _ := f.reg.Get(s.ID); got.State != StateActive {
		t.Fatalf("leave changed lifecycle: %s", got.State)
	}

	role, snap, err := f.reg.Join(s.ID, "bob", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if role != round.RoleReceiver {
		t.Fatalf("rejoin changed role: %s", role)
	}
	if snap == nil || snap.You != "bob" {
		t.Fatalf("rejoin snapshot wrong: %+v", snap)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)
	f.reg.Leave(s.ID, "bob")
	f.reg.Leave(s.ID, "bob")
	f.reg.Leave(s.ID, "mallory")
	f.reg.Leave("nope", "bob")
	if got, _ := f.reg.Get(s.ID); got.Second.Connected || !got.First.Connected {
		t.Fatalf("leave bookkeeping wrong: %+v", got)
	}
}

func TestRoundAdvancedMirrorsSession(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)

	f.reg.RoundAdvanced(s.ID, 3, 2, false)
	got, _ := f.reg.Get(s.ID)
	if got.Round != 3 || got.Score != 2 || got.State != StateActive {
		t.Fatalf("mirror wrong: %+v", got)
	}

	f.reg.RoundAdvanced(s.ID, 10, 7, true)
	got, _ = f.reg.Get(s.ID)
	if got.State != StateComplete || got.Score != 7 {
		t.Fatalf("completion not mirrored: %+v", got)
	}
}

func TestReapIdleAbandonsDisconnected(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)

	f.reg.Leave(s.ID, "bob")
	f.advance(119 * time.Second)
	if gone := f.reg.ReapIdle(); len(gone) != 0 {
		t.Fatalf("reaped inside the window: %v", gone)
	}

	f.advance(2 * time.Second)
	gone := f.reg.ReapIdle()
	if len(gone) != 1 || gone[0] != s.ID {
		t.Fatalf("expected %s abandoned, got %v", s.ID, gone)
	}
	if got, _ := f.reg.Get(s.ID); got.State != StateAbandoned {
		t.Fatalf("expected abandoned, got %s", got.State)
	}
	if _, _, err := f.reg.Join(s.ID, "bob", "bob@example.com", "Bob"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("abandoned session still joinable: %v", err)
	}
}

func TestLeaveKeepsScheduledAdvance(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)

	if err := f.coord.Select(s.ID, "alice", 2); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := f.coord.Guess(s.ID, "bob", 2); err != nil {
		t.Fatalf("Guess: %v", err)
	}
	// Bob drops during the verdict pause; the advance fires regardless.
	f.reg.Leave(s.ID, "bob")
	f.fire()

	got, _ := f.reg.Get(s.ID)
	if got.Round != 1 || got.Score != 1 {
		t.Fatalf("advance lost to the leave: %+v", got)
	}

	role, snap, err := f.reg.Join(s.ID, "bob", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if role != round.RoleReceiver {
		t.Fatalf("rejoin changed role: %s", role)
	}
	if snap == nil || snap.Round != 1 || snap.Score != 1 {
		t.Fatalf("rejoin snapshot missed the new round: %+v", snap)
	}
}

func TestTerminalSessionsEvicted(t *testing.T) {
	f := newFixture(t)

	done := activeSession(t, f)
	f.reg.RoundAdvanced(done.ID, 10, 7, true)

	// Within the grace window the record still answers.
	f.advance(60 * time.Second)
	if gone := f.reg.ReapIdle(); len(gone) != 0 {
		t.Fatalf("reap abandoned something: %v", gone)
	}
	if got, ok := f.reg.Get(done.ID); !ok || got.State != StateComplete {
		t.Fatalf("complete session missing inside the grace window: %+v", got)
	}

	f.advance(61 * time.Second)
	if gone := f.reg.ReapIdle(); len(gone) != 0 {
		t.Fatalf("eviction reported as abandonment: %v", gone)
	}
	if _, ok := f.reg.Get(done.ID); ok {
		t.Fatal("complete session retained past the grace window")
	}
}

func TestAbandonedSessionsEvicted(t *testing.T) {
	f := newFixture(t)
	s := activeSession(t, f)

	f.reg.Leave(s.ID, "bob")
	f.advance(121 * time.Second)
	if gone := f.reg.ReapIdle(); len(gone) != 1 {
		t.Fatalf("expected one abandonment, got %v", gone)
	}
	if got, ok := f.reg.Get(s.ID); !ok || got.State != StateAbandoned {
		t.Fatalf("abandoned record missing inside the grace window: %+v", got)
	}

	f.advance(121 * time.Second)
	f.reg.ReapIdle()
	if _, ok := f.reg.Get(s.ID); ok {
		t.Fatal("abandoned session retained past the grace window")
	}
}

func TestReapIgnoresFullyConnected(t *testing.T) {
	f := newFixture(t)
	activeSession(t, f)
	f.advance(10 * time.Minute)
	if gone := f.reg.ReapIdle(); len(gone) != 0 {
		t.Fatalf("reaped a session with both players connected: %v", gone)
	}
}

func TestReapWaitingSessionWithAbsentCreator(t *testing.T) {
	f := newFixture(t)
	s, _ := f.reg.Create("alice", "alice@example.com", "Alice")
	// Creator never connected; the empty second slot alone must not count.
	f.advance(3 * time.Minute)
	gone := f.reg.ReapIdle()
	if len(gone) != 1 || gone[0] != s.ID {
		t.Fatalf("expected stale waiting session reaped, got %v", gone)
	}
}
