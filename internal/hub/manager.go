package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/auth"
	"github.com/eternisai/enchanted-notify/internal/logger"
)

// Options configures a Manager. Zero values pick the defaults.
type Options struct {
	Backoff      BackoffPolicy
	Connectivity Connectivity
	Metrics      *Metrics
}

// Manager owns the single push subscription of a session.
//
// State machine:
//
//	Disconnected → Connecting → Connected
//	Connected → Reconnecting → Connected           (drop, retry succeeds)
//	Reconnecting → Reconnecting                     (retry fails)
//	Connecting|Connected|Reconnecting → Disconnecting → Disconnected   (Stop)
//
// Only the manager calls into the transport. Pushed items are handed to the
// sink as-is, in delivery order.
type Manager struct {
	transport Transport
	tokens    TokenSource
	sink      Sink
	backoff   BackoffPolicy
	network   Connectivity
	metrics   *Metrics
	logger    *logger.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu          sync.Mutex
	state       State
	stopping    bool
	cancel      context.CancelFunc
	done        chan struct{}
	outageStart time.Time
	listeners   []func(State)
}

// NewManager creates a manager in the Disconnected state.
func NewManager(transport Transport, tokens TokenSource, sink Sink, logger *logger.Logger, opts Options) *Manager {
	backoff := opts.Backoff
	if backoff.FastWindow == 0 && backoff.MaxJitter == 0 && backoff.SlowDelay == 0 {
		backoff = DefaultBackoffPolicy()
	}

	network := opts.Connectivity
	if network == nil {
		network = AlwaysOnline{}
	}

	return &Manager{
		transport: transport,
		tokens:    tokens,
		sink:      sink,
		backoff:   backoff,
		network:   network,
		metrics:   opts.Metrics,
		logger:    logger.WithComponent("hub-manager"),
		now:       time.Now,
		after:     time.After,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// OnStateChange registers a listener called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// Start opens the subscription. It is a no-op unless the manager is
// Disconnected. The result of the first attempt is returned, but a failed
// attempt still leaves the manager retrying on its own until Stop.
//
// ctx bounds only the wait for the first attempt; the connection itself lives
// until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.stopping = false
	m.outageStart = m.now()
	done := m.done
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	notify()

	first := make(chan error, 1)
	go m.run(runCtx, first, done)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the subscription and waits for the connection loop to exit.
// Safe to call multiple times.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	m.stopping = true
	cancel, done := m.cancel, m.done
	notify := m.setStateLocked(StateDisconnecting)
	m.mu.Unlock()

	notify()
	m.logger.Info("stopping hub connection")

	cancel()

	// The loop settles into Disconnected on its way out, so a Stop that gives
	// up early still leaves the manager restartable once the loop ends.
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("hub loop still exiting after stop deadline")
		return ctx.Err()
	}

	m.logger.Info("hub connection stopped")

	return nil
}

func (m *Manager) run(ctx context.Context, first chan<- error, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		notify := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		notify()
		close(done)
	}()

	report := func(err error) {
		if first != nil {
			first <- err
			first = nil
		}
	}

	for {
		changed := m.network.Changed()
		stream, err := m.connect(ctx)
		if err != nil {
			report(err)
			if ctx.Err() != nil {
				return
			}

			m.logConnectError(err)
			if !m.transition(StateReconnecting) {
				return
			}
			if !m.wait(ctx, m.retryDelay(), changed) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.outageStart = time.Time{}
		m.mu.Unlock()

		if !m.transition(StateConnected) {
			stream.Close()
			report(context.Canceled)
			return
		}
		report(nil)
		m.logger.Info("hub connected")

		err = m.consume(ctx, stream)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.outageStart = m.now()
		m.mu.Unlock()

		m.logger.Warn("hub stream dropped", slog.String("error", errString(err)))
		if !m.transition(StateReconnecting) {
			return
		}
		if !m.wait(ctx, m.retryDelay(), m.network.Changed()) {
			return
		}
	}
}

func (m *Manager) connect(ctx context.Context) (Stream, error) {
	if !m.network.Online() {
		m.metrics.observeAttempt("offline")
		return nil, &ConnectError{Offline: true, Err: ErrOffline}
	}

	stream, err := m.transport.Dial(ctx, m.tokens)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrRefreshFailed) {
			m.metrics.observeAttempt("token_error")
		} else {
			m.metrics.observeAttempt("error")
		}
		return nil, err
	}

	m.metrics.observeAttempt("success")
	return stream, nil
}

// consume forwards pushed items until the stream fails or ctx is cancelled.
func (m *Manager) consume(ctx context.Context, stream Stream) error {
	stopped := make(chan struct{})
	defer close(stopped)
	defer stream.Close()

	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stopped:
		}
	}()

	for {
		item, err := stream.Receive()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.metrics.observePush()
		m.logger.Debug("push received",
			slog.String("notification_id", item.ID),
			slog.String("type", string(item.Type)))
		m.sink.OnPush(item)
	}
}

// retryDelay measures the outage from the moment the connection was lost (or
// from Start when it never came up).
func (m *Manager) retryDelay() time.Duration {
	m.mu.Lock()
	since := m.now().Sub(m.outageStart)
	m.mu.Unlock()

	delay := m.backoff.NextDelay(since)
	m.logger.Debug("scheduling reconnect",
		slog.Duration("outage", since),
		slog.Duration("delay", delay))
	return delay
}

// wait sleeps for d. changed must be taken before the attempt that failed so
// an online signal arriving in between is not missed.
func (m *Manager) wait(ctx context.Context, d time.Duration, changed <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.after(d):
		return true
	case <-changed:
		m.logger.Debug("network back online, retrying now")
		return true
	}
}

func (m *Manager) logConnectError(err error) {
	var connectErr *ConnectError

	switch {
	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrRefreshFailed):
		m.logger.Warn("no usable access token for hub connection", slog.String("error", err.Error()))
	case errors.As(err, &connectErr) && connectErr.Offline:
		m.logger.Debug("network offline, waiting to reconnect")
	default:
		m.logger.Info("hub connection attempt failed", slog.String("error", err.Error()))
	}
}

// transition moves to a new state unless a Stop is in progress.
func (m *Manager) transition(to State) bool {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return false
	}
	notify := m.setStateLocked(to)
	m.mu.Unlock()

	notify()
	return true
}

// setStateLocked updates the state and returns a func that notifies
// listeners; call it after releasing the lock.
func (m *Manager) setStateLocked(to State) func() {
	if m.state == to {
		return func() {}
	}

	from := m.state
	m.state = to
	m.metrics.observeState(to)

	listeners := make([]func(State), len(m.listeners))
	copy(listeners, m.listeners)

	return func() {
		m.logger.Debug("hub state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		for _, fn := range listeners {
			fn(to)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
