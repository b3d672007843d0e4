package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
)

// Defaults for Options.
const (
	DefaultCapacity      = 5
	DefaultFallbackCount = 3
	DefaultPageSize      = 10
)

// Fetcher loads one page of notifications, most recent first.
type Fetcher interface {
	ListNotifications(ctx context.Context, page, pageSize int) ([]notification.Item, error)
}

// Options configures a Store. Zero values pick the defaults.
type Options struct {
	// Capacity bounds the working set.
	Capacity int
	// FallbackCount is how many items bootstrap shows when nothing is unread.
	FallbackCount int
	// PageSize is the bootstrap page size.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.FallbackCount <= 0 {
		o.FallbackCount = DefaultFallbackCount
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// BootstrapError is returned when the initial fetch fails. It is not retried;
// pushes keep populating the working set.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("notification bootstrap failed: %v", e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// Listener observes working-set changes.
type Listener func(notification.Change)

// Store holds the session's working set: the bounded, most-recent-first list
// of notifications the ticker shows.
//
// Writers are serialised so listeners observe changes in mutation order.
// Listeners run on the writer's goroutine and must not call back into
// mutating Store methods.
type Store struct {
	fetcher Fetcher
	opts    Options
	logger  *logger.Logger
	now     func() time.Time

	writeMu sync.Mutex

	mu        sync.RWMutex
	items     []notification.Item
	listeners map[int]Listener
	nextID    int
}

// New creates an empty store.
func New(fetcher Fetcher, logger *logger.Logger, opts Options) *Store {
	return &Store{
		fetcher:   fetcher,
		opts:      opts.withDefaults(),
		logger:    logger.WithComponent("notification-store"),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Bootstrap fetches the first page and merges its display set behind any
// items that were already pushed. It returns the display set selected from the
// fetched page.
func (s *Store) Bootstrap(ctx context.Context) ([]notification.Item, error) {
	fetched, err := s.fetcher.ListNotifications(ctx, 1, s.opts.PageSize)
	if err != nil {
		s.logger.Warn("notification bootstrap failed", slog.String("error", err.Error()))
		return nil, &BootstrapError{Err: err}
	}

	display := SelectDisplaySet(fetched, s.opts.FallbackCount)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	merged := make([]notification.Item, 0, len(s.items)+len(display))
	merged = append(merged, s.items...)
	for _, item := range display {
		if indexOf(merged, item.ID) < 0 {
			merged = append(merged, item)
		}
	}
	if len(merged) > s.opts.Capacity {
		merged = merged[:s.opts.Capacity]
	}
	s.items = merged
	change := s.changeLocked(nil)
	s.mu.Unlock()

	s.logger.Info("notification bootstrap complete",
		slog.Int("fetched", len(fetched)),
		slog.Int("displayed", len(display)),
		slog.Int("working_set", len(change.Items)))

	s.notify(change)
	return display, nil
}

// OnPush puts item at the front of the working set, replacing any entry with
// the same id and dropping the oldest item when over capacity.
func (s *Store) OnPush(item notification.Item) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := make([]notification.Item, 0, len(s.items)+1)
	next = append(next, item)
	for _, existing := range s.items {
		if existing.ID != item.ID {
			next = append(next, existing)
		}
	}
	if len(next) > s.opts.Capacity {
		next = next[:s.opts.Capacity]
	}
	s.items = next
	pushed := item
	change := s.changeLocked(&pushed)
	s.mu.Unlock()

	s.logger.Debug("notification pushed",
		slog.String("notification_id", item.ID),
		slog.Int("working_set", len(change.Items)))

	s.notify(change)
}

// Snapshot returns a copy of the working set.
func (s *Store) Snapshot() []notification.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneItems(s.items)
}

// Subscribe registers a listener and returns a func that removes it.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Reset discards the working set, for sign-out.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.items = nil
	change := s.changeLocked(nil)
	s.mu.Unlock()

	s.notify(change)
}

func (s *Store) changeLocked(pushed *notification.Item) notification.Change {
	return notification.Change{
		Items:  cloneItems(s.items),
		Pushed: pushed,
		At:     s.now(),
	}
}

func (s *Store) notify(change notification.Change) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// SelectDisplaySet picks what bootstrap shows from a fetched page: every unread
// item in the order given, or the first fallbackCount items when all are read.
func SelectDisplaySet(items []notification.Item, fallbackCount int) []notification.Item {
	var unread []notification.Item
	for _, item := range items {
		if !item.IsRead {
			unread = append(unread, item)
		}
	}
	if len(unread) > 0 {
		return unread
	}

	if fallbackCount < 0 {
		fallbackCount = 0
	}
	if fallbackCount > len(items) {
		fallbackCount = len(items)
	}
	return cloneItems(items[:fallbackCount])
}

func indexOf(items []notification.Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func cloneItems(items []notification.Item) []notification.Item {
	if items == nil {
		return nil
	}
	out := make([]notification.Item, len(items))
	copy(out, items)
	return out
}
