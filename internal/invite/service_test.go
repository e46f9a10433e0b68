package invite

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/telepathy-go/internal/msgcat"
)

type captureNotifier struct {
	mu       sync.Mutex
	sent     int
	lastTo   string
	lastSubj string
	lastBody string
}

func (n *captureNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	n.sent++
	n.lastTo = recipient
	n.lastSubj = subject
	n.lastBody = body
	n.mu.Unlock()
	return nil
}

func newTestService(t *testing.T) (*Service, *captureNotifier, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	catalog, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	n := &captureNotifier{}
	svc := NewService(NewStore(rdb, time.Hour), n, catalog)
	return svc, n, func() { mr.Close() }
}

func TestSendRecordsAndNotifies(t *testing.T) {
	svc, n, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	if err := svc.Send(ctx, "bob@example.com", "game-1", "alice@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n.sent != 1 || n.lastTo != "bob@example.com" {
		t.Fatalf("notification wrong: %+v", n)
	}
	if !strings.Contains(n.lastBody, "game-1") || !strings.Contains(n.lastBody, "alice@example.com") {
		t.Fatalf("body missing fields: %q", n.lastBody)
	}

	pending, err := svc.PendingFor(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 1 || pending[0].GameID != "game-1" || pending[0].SenderEmail != "alice@example.com" {
		t.Fatalf("pending wrong: %+v", pending)
	}
}

func TestPendingSurvivesUntilConsumed(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	for _, game := range []string{"game-1", "game-2"} {
		if err := svc.Send(ctx, "bob@example.com", game, "alice@example.com"); err != nil {
			t.Fatalf("Send(%s): %v", game, err)
		}
	}

	pending, err := svc.PendingFor(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	if err := svc.Consume(ctx, "bob@example.com", "game-1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	pending, err = svc.PendingFor(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 1 || pending[0].GameID != "game-2" {
		t.Fatalf("consume left the wrong invite: %+v", pending)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()
	ctx := context.Background()

	if err := svc.Send(ctx, "Bob@Example.com", "game-1", "alice@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pending, err := svc.PendingFor(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("case-folded lookup missed the invite: %+v", pending)
	}
}

func TestPendingForStranger(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()
	pending, err := svc.PendingFor(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected none, got %+v", pending)
	}
}
