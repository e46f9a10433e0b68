// Package gamelink is the client-side transport: one reconnecting websocket
// per player, carrying wire envelopes. All connection behavior is driven by
// an explicit Options value instead of module-level defaults.
package gamelink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kapu/telepathy-go/pkg/wire"
)

// LinkState is the connection lifecycle visible to state callbacks.
type LinkState string

const (
	StateDisconnected LinkState = "disconnected"
	StateConnecting   LinkState = "connecting"
	StateConnected    LinkState = "connected"
	StateReconnecting LinkState = "reconnecting"
	StateFailed       LinkState = "failed"
)

// Options configures a Link explicitly; recognized knobs match the ones the
// original client buried in a module-level singleton.
type Options struct {
	// ReconnectionAttempts bounds automatic redials after a drop; zero
	// disables reconnection.
	ReconnectionAttempts int
	// ReconnectionDelay is the base delay between redials.
	ReconnectionDelay time.Duration
	// Timeout bounds each dial handshake.
	Timeout time.Duration
	// TransportPreference selects the transport; only "websocket" is
	// implemented, the field exists so configs stay explicit about it.
	TransportPreference string
}

// DefaultOptions mirrors the original client's reconnection settings.
func DefaultOptions() Options {
	return Options{
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		Timeout:              10 * time.Second,
		TransportPreference:  "websocket",
	}
}

func (o Options) validate() error {
	if o.TransportPreference != "" && o.TransportPreference != "websocket" {
		return fmt.Errorf("unsupported transport preference: %s", o.TransportPreference)
	}
	return nil
}

type EventCallback func(evt *wire.Envelope)

type StateCallback func(state LinkState)

// Client is the connector surface the reconciler and binaries use.
type Client interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, evt *wire.Envelope) error
	OnEvent(cb EventCallback) int
	RemoveEventCallback(id int)
	OnStateChange(cb StateCallback) int
	RemoveStateCallback(id int)
	Close(ctx context.Context) error
}

var ErrNotConnected = errors.New("link not connected")

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}

func normalizeURL(raw string) string { return strings.TrimSpace(raw) }
