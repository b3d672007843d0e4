package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/auth"
	"github.com/eternisai/enchanted-notify/internal/deeplink"
	"github.com/eternisai/enchanted-notify/internal/events"
	"github.com/eternisai/enchanted-notify/internal/hub"
	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
	"github.com/eternisai/enchanted-notify/internal/store"
	"github.com/eternisai/enchanted-notify/internal/ticker"
)

// Config holds the tunables of one session.
type Config struct {
	RefreshLookahead time.Duration
	Backoff          hub.BackoffPolicy
	Store            store.Options
	Ticker           ticker.Config
	Paths            deeplink.Paths
}

// Dependencies are the collaborators a session is built from.
type Dependencies struct {
	Tokens    auth.TokenStore
	Transport hub.Transport
	// NewFetcher builds the bootstrap client around the session's token guard.
	NewFetcher   func(tokens auth.TokenSource) store.Fetcher
	Navigator    deeplink.Navigator
	Broadcaster  events.Broadcaster
	Connectivity hub.Connectivity
	Metrics      *hub.Metrics
	Clock        ticker.Clock
}

// Session is the notification subsystem for one signed-in user: token guard,
// hub connection, working set, ticker and router.
type Session struct {
	ID string

	guard     *auth.Guard
	manager   *hub.Manager
	store     *store.Store
	scheduler *ticker.Scheduler
	runner    *ticker.Runner
	router    *deeplink.Router
	events    events.Broadcaster
	logger    *logger.Logger

	mu              sync.Mutex
	started         bool
	stopped         bool
	unsubscribe     func()
	cancelBootstrap context.CancelFunc
	cancelConnect   context.CancelFunc
	connectStarted  chan struct{}
	bootstrapDone   chan struct{}
	bootstrapErr    error
}

// New builds a session. Nothing runs until Start.
func New(cfg Config, deps Dependencies, baseLogger *logger.Logger) *Session {
	id := logger.GenerateSessionID()
	log := baseLogger.WithFields(map[string]interface{}{"session_id": id})

	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = events.Nop{}
	}

	guard := auth.NewGuard(deps.Tokens, cfg.RefreshLookahead, log)
	st := store.New(deps.NewFetcher(guard), log, cfg.Store)
	router := deeplink.NewRouter(cfg.Paths, deps.Navigator, log)
	scheduler := ticker.NewScheduler(cfg.Ticker, deps.Clock, router, log)
	manager := hub.NewManager(deps.Transport, guard, st, log, hub.Options{
		Backoff:      cfg.Backoff,
		Connectivity: deps.Connectivity,
		Metrics:      deps.Metrics,
	})

	return &Session{
		ID:             id,
		guard:          guard,
		manager:        manager,
		store:          st,
		scheduler:      scheduler,
		runner:         ticker.NewRunner(scheduler),
		router:         router,
		events:         broadcaster,
		logger:         log.WithComponent("session"),
		bootstrapDone:  make(chan struct{}),
		connectStarted: make(chan struct{}),
	}
}

// Start wires the store to the ticker and the change signal, opens the hub
// connection and kicks off the bootstrap fetch without waiting for either.
// Connection and bootstrap failures are logged, never returned; the session
// keeps retrying the hub on its own.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true

	s.unsubscribe = s.store.Subscribe(s.onChange)
	bootstrapCtx, cancel := context.WithCancel(logger.WithSessionID(context.Background(), s.ID))
	s.cancelBootstrap = cancel
	connectCtx, cancelConnect := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelConnect = cancelConnect
	s.mu.Unlock()

	s.runner.Start()

	go s.bootstrap(bootstrapCtx)
	go s.connect(connectCtx)

	s.logger.Info("notification session started")
}

// connect launches the hub manager. Manager.Start registers the connection
// before it waits for the first attempt, so once connectStarted is closed a
// Stop reaches the running loop.
func (s *Session) connect(ctx context.Context) {
	defer close(s.connectStarted)

	if err := s.manager.Start(ctx); err != nil && ctx.Err() == nil {
		s.logger.Info("hub not connected yet, retrying in background", slog.String("error", err.Error()))
	}
}

// Stop tears the session down: connection first, then timers, then state.
// Safe to call multiple times.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancelBootstrap, cancelConnect, unsubscribe := s.cancelBootstrap, s.cancelConnect, s.unsubscribe
	s.mu.Unlock()

	// Stop waiting for the first attempt; the manager loop is already
	// registered by then and is cancelled by manager.Stop.
	cancelConnect()
	select {
	case <-s.connectStarted:
	case <-ctx.Done():
	}

	err := s.manager.Stop(ctx)
	if err != nil {
		s.logger.Warn("hub did not stop cleanly", slog.String("error", err.Error()))
	}

	s.runner.Stop()
	s.scheduler.Cancel()

	cancelBootstrap()
	select {
	case <-s.bootstrapDone:
	case <-ctx.Done():
	}

	s.store.Reset()
	unsubscribe()

	s.logger.Info("notification session stopped")
	return err
}

// WaitBootstrap blocks until the bootstrap fetch has finished and returns its
// result.
func (s *Session) WaitBootstrap(ctx context.Context) error {
	select {
	case <-s.bootstrapDone:
		return s.bootstrapErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ticker returns the ticker state.
func (s *Session) Ticker() ticker.State {
	return s.scheduler.State()
}

// Click opens the displayed notification and returns the path navigated to.
func (s *Session) Click(ctx context.Context) (string, error) {
	return s.scheduler.Click(ctx)
}

// ConnectionState returns the hub connection state.
func (s *Session) ConnectionState() hub.State {
	return s.manager.State()
}

// Items returns the working set.
func (s *Session) Items() []notification.Item {
	return s.store.Snapshot()
}

func (s *Session) bootstrap(ctx context.Context) {
	defer close(s.bootstrapDone)

	// s.logger already carries the session id; ctx does too, for the fetcher.
	err := s.logger.LogOperation(context.Background(), "bootstrap", func() error {
		_, err := s.store.Bootstrap(ctx)
		return err
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Info("ticker starts without initial notifications", slog.String("error", err.Error()))
	}
	s.bootstrapErr = err
}

func (s *Session) onChange(change notification.Change) {
	s.scheduler.Update(change.Items, change.Pushed)

	if err := s.events.Publish(context.Background(), events.NewChangedEvent(s.ID, change)); err != nil {
		s.logger.Warn("failed to broadcast notification change", slog.String("error", err.Error()))
	}
}
