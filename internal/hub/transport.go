package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/eternisai/enchanted-notify/internal/notification"
)

var (
	// ErrServerClosed is returned by Stream.Receive when the hub ends the
	// stream with a close frame.
	ErrServerClosed = errors.New("hub closed the stream")
	// ErrOffline is reported when no attempt was made because the host is offline.
	ErrOffline = errors.New("network offline")
)

// TokenSource supplies a fresh access token for every connection attempt.
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Transport opens push streams to the hub. Dial must ask tokens for a token on
// every call.
type Transport interface {
	Dial(ctx context.Context, tokens TokenSource) (Stream, error)
}

// Stream is one open subscription. Receive blocks until the next pushed item
// or a failure; Close unblocks a pending Receive.
type Stream interface {
	Receive() (notification.Item, error)
	Close() error
}

// Sink consumes pushed items in delivery order.
type Sink interface {
	OnPush(item notification.Item)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(item notification.Item)

func (f SinkFunc) OnPush(item notification.Item) { f(item) }

// ConnectError is a failed attempt to reach the hub.
type ConnectError struct {
	URL        string
	StatusCode int
	Offline    bool
	Err        error
}

func (e *ConnectError) Error() string {
	switch {
	case e.Offline:
		return "hub connect skipped: network offline"
	case e.StatusCode != 0:
		return fmt.Sprintf("hub connect %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("hub connect %s failed: %v", e.URL, e.Err)
	}
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
