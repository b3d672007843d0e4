package events

import (
	"context"
	"sync"
	"time"
)

// Subscriber is one listener on a Bus.
type Subscriber struct {
	ID       string
	Ch       chan ChangedEvent
	JoinedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSubscriber(ctx context.Context, id string, bufferSize int) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)

	if bufferSize < 1 {
		bufferSize = 1
	}
	if bufferSize > 1000 {
		bufferSize = 1000
	}

	return &Subscriber{
		ID:       id,
		Ch:       make(chan ChangedEvent, bufferSize),
		JoinedAt: time.Now(),
		ctx:      subCtx,
		cancel:   cancel,
	}
}

// Context is cancelled when the subscriber leaves.
func (s *Subscriber) Context() context.Context {
	return s.ctx
}

// Send delivers event unless the subscriber stays full for timeout or has
// left. It reports whether the event was delivered.
func (s *Subscriber) Send(event ChangedEvent, timeout time.Duration) bool {
	if s.ctx.Err() != nil {
		return false
	}

	select {
	case s.Ch <- event:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.Ch <- event:
		return true
	case <-timer.C:
		return false
	case <-s.ctx.Done():
		return false
	}
}
