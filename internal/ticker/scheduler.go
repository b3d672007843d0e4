package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
)

// ErrNothingDisplayed is returned by Click when the working set is empty.
var ErrNothingDisplayed = errors.New("no notification is displayed")

// Defaults for Config.
const (
	DefaultRotationInterval = 5 * time.Second
	DefaultFadeDuration     = 300 * time.Millisecond
	DefaultForceOpenWindow  = 10 * time.Second
)

// Config holds the ticker timings.
type Config struct {
	RotationInterval time.Duration
	FadeDuration     time.Duration
	ForceOpenWindow  time.Duration
}

// DefaultConfig returns the 5s / 300ms / 10s timings.
func DefaultConfig() Config {
	return Config{
		RotationInterval: DefaultRotationInterval,
		FadeDuration:     DefaultFadeDuration,
		ForceOpenWindow:  DefaultForceOpenWindow,
	}
}

func (c Config) withDefaults() Config {
	if c.RotationInterval <= 0 {
		c.RotationInterval = DefaultRotationInterval
	}
	if c.FadeDuration < 0 {
		c.FadeDuration = 0
	}
	if c.ForceOpenWindow <= 0 {
		c.ForceOpenWindow = DefaultForceOpenWindow
	}
	return c
}

// Opener navigates to an item's destination and returns the path it used.
type Opener interface {
	Open(ctx context.Context, item notification.Item) (string, error)
}

// State is what the ticker renders.
type State struct {
	Items   []notification.Item `json:"items"`
	Index   int                 `json:"index"`
	Visible bool                `json:"visible"`
	// ForceOpenUntil is zero when no force-open window is active.
	ForceOpenUntil time.Time `json:"forceOpenUntil"`
}

// Current returns the displayed item.
func (s State) Current() (notification.Item, bool) {
	if len(s.Items) == 0 {
		return notification.Item{}, false
	}
	return s.Items[s.Index], true
}

// Scheduler decides which working-set item the ticker shows.
//
// It never starts timers itself. Deadlines are kept as absolute times; Tick
// processes every deadline that is due at Clock.Now(), oldest first, and
// NextDeadline tells a driver when to call Tick again.
//
// Three deadlines exist:
//
//	rotateAt        start of the next rotation (fade out)
//	fadeEndAt       end of the fade, when the index advances
//	forceOpenUntil  end of the force-open window after a push
type Scheduler struct {
	cfg    Config
	clock  Clock
	opener Opener
	logger *logger.Logger

	mu             sync.Mutex
	items          []notification.Item
	index          int
	visible        bool
	forceOpenUntil time.Time
	rotateAt       time.Time
	fadeEndAt      time.Time
	cancelled      bool
	listeners      []func(State)

	wake chan struct{}
}

// NewScheduler creates an idle scheduler with an empty working set.
func NewScheduler(cfg Config, clock Clock, opener Opener, logger *logger.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Scheduler{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		opener:  opener,
		logger:  logger.WithComponent("ticker"),
		visible: true,
		wake:    make(chan struct{}, 1),
	}
}

// OnChange registers a listener called after every state change.
func (s *Scheduler) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, fn)
}

// Wake receives a value whenever the next deadline may have moved.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

// State returns the current ticker state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked()
}

// Update replaces the working set. A non-nil pushed item opens the
// force-open window: index 0 is shown and rotation is held until the window
// ends.
func (s *Scheduler) Update(items []notification.Item, pushed *notification.Item) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	s.items = append([]notification.Item(nil), items...)

	if pushed != nil {
		s.index = 0
		s.visible = true
		s.fadeEndAt = time.Time{}
		s.rotateAt = time.Time{}
		s.forceOpenUntil = now.Add(s.cfg.ForceOpenWindow)
		s.logger.Debug("force-open window started",
			slog.String("notification_id", pushed.ID),
			slog.Time("until", s.forceOpenUntil))
	} else if s.index >= len(s.items) {
		s.index = 0
	}

	if len(s.items) == 0 {
		s.visible = true
		s.fadeEndAt = time.Time{}
	}
	s.scheduleRotationLocked(now)

	notify := s.changedLocked()
	s.mu.Unlock()

	s.poke()
	notify()
}

// Tick processes every deadline due at the current clock time.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}

	now := s.clock.Now()
	processed := false
	for {
		at, ok := s.nextDeadlineLocked()
		if !ok || at.After(now) {
			break
		}
		s.fireLocked(at)
		processed = true
	}

	if !processed {
		s.mu.Unlock()
		return
	}
	notify := s.changedLocked()
	s.mu.Unlock()

	notify()
}

// NextDeadline returns the earliest pending deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return time.Time{}, false
	}
	return s.nextDeadlineLocked()
}

// Click opens the displayed item and ends any force-open window.
func (s *Scheduler) Click(ctx context.Context) (string, error) {
	s.mu.Lock()
	state := s.stateLocked()
	item, ok := state.Current()
	if !ok {
		s.mu.Unlock()
		return "", ErrNothingDisplayed
	}

	var notify func()
	if !s.cancelled {
		now := s.clock.Now()
		if !s.forceOpenUntil.IsZero() {
			s.forceOpenUntil = time.Time{}
			s.rotateAt = time.Time{}
			s.scheduleRotationLocked(now)
		}
		notify = s.changedLocked()
	}
	s.mu.Unlock()

	if notify != nil {
		s.poke()
		notify()
	}

	s.logger.Debug("ticker item clicked", slog.String("notification_id", item.ID))

	if s.opener == nil {
		return "", errors.New("no deep-link opener configured")
	}
	return s.opener.Open(ctx, item)
}

// Cancel clears every deadline. The scheduler ignores all later updates and
// ticks.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.rotateAt = time.Time{}
	s.fadeEndAt = time.Time{}
	s.forceOpenUntil = time.Time{}
	s.mu.Unlock()

	s.poke()
}

func (s *Scheduler) fireLocked(at time.Time) {
	switch {
	case !s.forceOpenUntil.IsZero() && !s.forceOpenUntil.After(at):
		s.forceOpenUntil = time.Time{}
		s.logger.Debug("force-open window ended")
		s.scheduleRotationLocked(at)

	case !s.fadeEndAt.IsZero() && !s.fadeEndAt.After(at):
		s.fadeEndAt = time.Time{}
		if len(s.items) > 0 {
			s.index = (s.index + 1) % len(s.items)
		}
		s.visible = true

	case !s.rotateAt.IsZero() && !s.rotateAt.After(at):
		s.rotateAt = time.Time{}
		if len(s.items) > 1 && s.forceOpenUntil.IsZero() {
			s.visible = false
			s.fadeEndAt = at.Add(s.cfg.FadeDuration)
			s.rotateAt = at.Add(s.cfg.RotationInterval)
		}
	}
}

// scheduleRotationLocked arms or disarms the rotation deadline. An already
// armed rotation keeps its time.
func (s *Scheduler) scheduleRotationLocked(now time.Time) {
	if len(s.items) <= 1 || !s.forceOpenUntil.IsZero() {
		s.rotateAt = time.Time{}
		return
	}
	if s.rotateAt.IsZero() {
		s.rotateAt = now.Add(s.cfg.RotationInterval)
	}
}

func (s *Scheduler) nextDeadlineLocked() (time.Time, bool) {
	var next time.Time
	for _, at := range []time.Time{s.forceOpenUntil, s.fadeEndAt, s.rotateAt} {
		if at.IsZero() {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, !next.IsZero()
}

func (s *Scheduler) stateLocked() State {
	return State{
		Items:          append([]notification.Item(nil), s.items...),
		Index:          s.index,
		Visible:        s.visible,
		ForceOpenUntil: s.forceOpenUntil,
	}
}

func (s *Scheduler) changedLocked() func() {
	state := s.stateLocked()
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)

	return func() {
		for _, fn := range listeners {
			fn(state)
		}
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
