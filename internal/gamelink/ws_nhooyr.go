package gamelink

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/telepathy-go/pkg/wire"
)

type eventEntry struct {
	id       int
	callback EventCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

// Link is the nhooyr-backed Client. It redials on drops up to
// Options.ReconnectionAttempts times with backoff, and keeps the connection
// alive with pings. The connection pointer is only touched under stateM so
// the pumps, Send, and Close never race on it.
type Link struct {
	wsURL string
	opts  Options

	conn   *websocket.Conn
	state  LinkState
	stateM sync.RWMutex

	evtCbs   []eventEntry
	stateCbs []stateEntry
	nextCbID int
	cbM      sync.RWMutex

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func New(wsURL string, opts Options) (*Link, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Link{
		wsURL:        normalizeURL(wsURL),
		opts:         opts,
		state:        StateDisconnected,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}, nil
}

func (l *Link) Connect(ctx context.Context) error {
	l.stateM.Lock()
	if l.state == StateConnected || l.state == StateConnecting {
		l.stateM.Unlock()
		return nil
	}
	l.stateM.Unlock()

	l.rootCtx, l.rootCancel = context.WithCancel(context.Background())
	l.setState(StateConnecting)

	conn, err := l.dial(ctx)
	if err != nil {
		l.setState(StateFailed)
		l.scheduleReconnect()
		return err
	}
	l.adopt(conn)
	return nil
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, l.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	return conn, err
}

// adopt installs a fresh connection and starts its pumps.
func (l *Link) adopt(conn *websocket.Conn) {
	l.stateM.Lock()
	l.conn = conn
	l.stateM.Unlock()
	l.setState(StateConnected)

	l.wg.Add(2)
	go l.listen(conn)
	go l.pingLoop(conn)
}

func (l *Link) currentConn() *websocket.Conn {
	l.stateM.RLock()
	defer l.stateM.RUnlock()
	return l.conn
}

// Send writes one envelope. Callers should treat errors as droppable; the
// next snapshot resyncs state after a reconnect.
func (l *Link) Send(ctx context.Context, evt *wire.Envelope) error {
	l.stateM.RLock()
	conn, state := l.conn, l.state
	l.stateM.RUnlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()
	return wsjson.Write(wctx, conn, evt)
}

// listen pumps events off one connection until it drops. Each pump owns the
// conn it was started with; a reconnect starts new pumps on the new conn.
func (l *Link) listen(conn *websocket.Conn) {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		var evt wire.Envelope
		if err := wsjson.Read(l.rootCtx, conn, &evt); err != nil {
			l.dropped(conn, "read failure")
			return
		}
		l.fanOut(&evt)
	}
}

func (l *Link) fanOut(evt *wire.Envelope) {
	l.cbM.RLock()
	callbacks := make([]eventEntry, len(l.evtCbs))
	copy(callbacks, l.evtCbs)
	l.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(evt)
		}
	}
}

func (l *Link) pingLoop(conn *websocket.Conn) {
	defer l.wg.Done()
	t := time.NewTicker(l.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-l.stopCh:
			return
		case <-t.C:
			if l.currentConn() != conn {
				// A reconnect replaced this conn; its pinger retires.
				return
			}
			ctx, cancel := context.WithTimeout(l.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				l.dropped(conn, "ping failure")
				return
			}
		}
	}
}

// dropped tears down a dead connection and kicks off the redial loop. Only
// the first pump to observe the drop acts; the other sees the conn already
// swapped out.
func (l *Link) dropped(conn *websocket.Conn, reason string) {
	if l.isStopping() {
		return
	}
	l.stateM.Lock()
	if l.conn != conn {
		l.stateM.Unlock()
		return
	}
	l.conn = nil
	l.stateM.Unlock()

	l.setState(StateDisconnected)
	_ = conn.Close(websocket.StatusGoingAway, reason)
	l.scheduleReconnect()
}

func (l *Link) scheduleReconnect() {
	if l.opts.ReconnectionAttempts <= 0 {
		return
	}
	l.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= l.opts.ReconnectionAttempts; attempt++ {
			select {
			case <-l.stopCh:
				return
			case <-time.After(backoffDuration(l.opts.ReconnectionDelay, attempt)):
			}

			conn, err := l.dial(l.rootCtx)
			if err != nil {
				continue
			}
			l.adopt(conn)
			return
		}
		l.setState(StateFailed)
	}()
}

func (l *Link) OnEvent(cb EventCallback) int {
	l.cbM.Lock()
	defer l.cbM.Unlock()
	l.nextCbID++
	id := l.nextCbID
	l.evtCbs = append(l.evtCbs, eventEntry{id: id, callback: cb})
	return id
}

func (l *Link) RemoveEventCallback(id int) {
	l.cbM.Lock()
	defer l.cbM.Unlock()
	for i, cb := range l.evtCbs {
		if cb.id == id {
			l.evtCbs = append(l.evtCbs[:i], l.evtCbs[i+1:]...)
			break
		}
	}
}

func (l *Link) OnStateChange(cb StateCallback) int {
	l.cbM.Lock()
	defer l.cbM.Unlock()
	l.nextCbID++
	id := l.nextCbID
	l.stateCbs = append(l.stateCbs, stateEntry{id: id, callback: cb})
	return id
}

func (l *Link) RemoveStateCallback(id int) {
	l.cbM.Lock()
	defer l.cbM.Unlock()
	for i, cb := range l.stateCbs {
		if cb.id == id {
			l.stateCbs = append(l.stateCbs[:i], l.stateCbs[i+1:]...)
			break
		}
	}
}

func (l *Link) setState(state LinkState) {
	l.stateM.Lock()
	l.state = state
	l.stateM.Unlock()

	l.cbM.RLock()
	callbacks := make([]stateEntry, len(l.stateCbs))
	copy(callbacks, l.stateCbs)
	l.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (l *Link) Close(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopCh) })

	l.stateM.Lock()
	conn := l.conn
	l.conn = nil
	l.stateM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if l.rootCancel != nil {
			l.rootCancel()
		}
		return nil
	}
}

func (l *Link) isStopping() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}
