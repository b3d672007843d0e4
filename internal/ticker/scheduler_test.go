package ticker

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
)

var log *logger.Logger

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Verbose() {
		log = logger.New(logger.Config{Level: slog.LevelDebug})
	} else {
		log = logger.New(logger.Config{Level: slog.LevelError})
	}

	os.Exit(m.Run())
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// set moves the clock to epoch+offset.
func (c *virtualClock) set(offset time.Duration) {
	c.mu.Lock()
	c.now = epoch.Add(offset)
	c.mu.Unlock()
}

type openerEmulator struct {
	opened []string
	err    error
}

func (o *openerEmulator) Open(ctx context.Context, item notification.Item) (string, error) {
	o.opened = append(o.opened, item.ID)
	return "/notifications/" + item.ID, o.err
}

func items(ids ...string) []notification.Item {
	out := make([]notification.Item, len(ids))
	for i, id := range ids {
		out[i] = notification.Item{ID: id, Title: "title " + id}
	}
	return out
}

func newTestScheduler() (*Scheduler, *virtualClock, *openerEmulator) {
	clock := &virtualClock{now: epoch}
	opener := &openerEmulator{}
	return NewScheduler(DefaultConfig(), clock, opener, log), clock, opener
}

// at advances the virtual clock and processes due deadlines.
func at(s *Scheduler, clock *virtualClock, offset time.Duration) State {
	clock.set(offset)
	s.Tick()
	return s.State()
}

func assertState(t *testing.T, got State, index int, visible bool) {
	t.Helper()

	if got.Index != index || got.Visible != visible {
		t.Fatalf("expected index %d visible %v, got index %d visible %v", index, visible, got.Index, got.Visible)
	}
}

func TestSchedulerRotation(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)

	steps := []struct {
		offset  time.Duration
		index   int
		visible bool
	}{
		{4900 * time.Millisecond, 0, true},
		{5 * time.Second, 0, false},
		{5299 * time.Millisecond, 0, false},
		{5300 * time.Millisecond, 1, true},
		{10 * time.Second, 1, false},
		{10300 * time.Millisecond, 2, true},
		{15 * time.Second, 2, false},
		{15300 * time.Millisecond, 0, true},
	}

	for _, step := range steps {
		assertState(t, at(s, clock, step.offset), step.index, step.visible)
	}
}

func TestSchedulerProcessesMissedDeadlinesInOrder(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)

	// Three full rotations have passed: 5s, 10s and 15s.
	state := at(s, clock, 16*time.Second)
	assertState(t, state, 0, true)

	next, ok := s.NextDeadline()
	if !ok || !next.Equal(epoch.Add(20*time.Second)) {
		t.Errorf("expected next rotation at 20s, got %v (%v)", next.Sub(epoch), ok)
	}
}

func TestSchedulerNoRotationForSingleItem(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a"), nil)

	if _, ok := s.NextDeadline(); ok {
		t.Error("a single item should not arm rotation")
	}
	assertState(t, at(s, clock, time.Minute), 0, true)

	s.Update(nil, nil)
	if _, ok := s.NextDeadline(); ok {
		t.Error("an empty working set should not arm rotation")
	}
	if _, ok := s.State().Current(); ok {
		t.Error("empty working set has no current item")
	}
}

func TestSchedulerPushOpensForceWindow(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)
	assertState(t, at(s, clock, 5300*time.Millisecond), 1, true)

	clock.set(6 * time.Second)
	pushed := notification.Item{ID: "x"}
	s.Update(append([]notification.Item{pushed}, items("a", "b", "c")...), &pushed)

	state := s.State()
	assertState(t, state, 0, true)
	if !state.ForceOpenUntil.Equal(epoch.Add(16 * time.Second)) {
		t.Fatalf("expected force-open until 16s, got %v", state.ForceOpenUntil.Sub(epoch))
	}

	// Rotation is held for the whole window.
	for _, offset := range []time.Duration{10 * time.Second, 11 * time.Second, 15900 * time.Millisecond} {
		assertState(t, at(s, clock, offset), 0, true)
	}

	// Window ends at 16s; rotation resumes one interval later.
	state = at(s, clock, 16*time.Second)
	assertState(t, state, 0, true)
	if !state.ForceOpenUntil.IsZero() {
		t.Error("force-open window should be cleared")
	}
	assertState(t, at(s, clock, 20900*time.Millisecond), 0, true)
	assertState(t, at(s, clock, 21*time.Second), 0, false)
	assertState(t, at(s, clock, 21300*time.Millisecond), 1, true)
}

func TestSchedulerPushDuringFade(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b"), nil)
	assertState(t, at(s, clock, 5100*time.Millisecond), 0, false)

	pushed := notification.Item{ID: "b"}
	s.Update(items("b", "a"), &pushed)
	assertState(t, s.State(), 0, true)

	// The interrupted fade does not advance the index later.
	assertState(t, at(s, clock, 5400*time.Millisecond), 0, true)
}

func TestSchedulerRepeatedPushRestartsWindow(t *testing.T) {
	s, clock, _ := newTestScheduler()
	pushed := notification.Item{ID: "a"}
	s.Update(items("a", "b"), &pushed)

	clock.set(8 * time.Second)
	s.Update(items("a", "b"), &pushed)

	if got := s.State().ForceOpenUntil; !got.Equal(epoch.Add(18 * time.Second)) {
		t.Errorf("expected window to restart until 18s, got %v", got.Sub(epoch))
	}
	assertState(t, at(s, clock, 17*time.Second), 0, true)
}

func TestSchedulerClickNavigatesAndClearsForceOpen(t *testing.T) {
	s, clock, opener := newTestScheduler()
	pushed := notification.Item{ID: "x"}
	s.Update(append([]notification.Item{pushed}, items("a")...), &pushed)

	clock.set(2 * time.Second)
	path, err := s.Click(context.Background())
	if err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if path != "/notifications/x" {
		t.Errorf("unexpected path %s", path)
	}
	if len(opener.opened) != 1 || opener.opened[0] != "x" {
		t.Errorf("expected x to be opened once, got %v", opener.opened)
	}
	if !s.State().ForceOpenUntil.IsZero() {
		t.Error("click should clear the force-open window")
	}

	// Rotation resumes one interval after the click.
	assertState(t, at(s, clock, 6900*time.Millisecond), 0, true)
	assertState(t, at(s, clock, 7*time.Second), 0, false)
	assertState(t, at(s, clock, 7300*time.Millisecond), 1, true)
}

func TestSchedulerClickOpensDisplayedItem(t *testing.T) {
	s, clock, opener := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)
	at(s, clock, 10300*time.Millisecond)

	if _, err := s.Click(context.Background()); err != nil {
		t.Fatalf("click failed: %v", err)
	}
	if len(opener.opened) != 1 || opener.opened[0] != "c" {
		t.Errorf("expected c to be opened, got %v", opener.opened)
	}
}

func TestSchedulerClickErrors(t *testing.T) {
	s, _, opener := newTestScheduler()

	if _, err := s.Click(context.Background()); !errors.Is(err, ErrNothingDisplayed) {
		t.Errorf("expected ErrNothingDisplayed, got %v", err)
	}

	navErr := errors.New("router unavailable")
	opener.err = navErr
	s.Update(items("a"), nil)
	if _, err := s.Click(context.Background()); !errors.Is(err, navErr) {
		t.Errorf("expected navigator error, got %v", err)
	}
}

func TestSchedulerShrinkingWorkingSetClampsIndex(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)
	assertState(t, at(s, clock, 10300*time.Millisecond), 2, true)

	s.Update(items("a", "b"), nil)
	assertState(t, s.State(), 0, true)
}

func TestSchedulerCancel(t *testing.T) {
	s, clock, _ := newTestScheduler()
	s.Update(items("a", "b", "c"), nil)

	s.Cancel()

	if _, ok := s.NextDeadline(); ok {
		t.Error("cancelled scheduler should have no deadlines")
	}
	assertState(t, at(s, clock, time.Minute), 0, true)

	pushed := notification.Item{ID: "x"}
	s.Update(items("x"), &pushed)
	if state := s.State(); len(state.Items) != 3 || !state.ForceOpenUntil.IsZero() {
		t.Errorf("cancelled scheduler should ignore updates, got %+v", state)
	}
}

func TestSchedulerOnChange(t *testing.T) {
	s, clock, _ := newTestScheduler()

	var states []State
	s.OnChange(func(state State) {
		states = append(states, state)
	})

	s.Update(items("a", "b"), nil)
	at(s, clock, time.Second) // nothing due
	at(s, clock, 5*time.Second)
	at(s, clock, 5300*time.Millisecond)

	if len(states) != 3 {
		t.Fatalf("expected 3 state changes, got %d", len(states))
	}
	if states[1].Visible || !states[2].Visible || states[2].Index != 1 {
		t.Errorf("unexpected states: %+v", states)
	}
}

func TestRunnerRotatesWithRealTimers(t *testing.T) {
	cfg := Config{
		RotationInterval: 30 * time.Millisecond,
		FadeDuration:     5 * time.Millisecond,
		ForceOpenWindow:  50 * time.Millisecond,
	}
	s := NewScheduler(cfg, nil, &openerEmulator{}, log)

	rotated := make(chan struct{}, 1)
	s.OnChange(func(state State) {
		if state.Index == 1 && state.Visible {
			select {
			case rotated <- struct{}{}:
			default:
			}
		}
	})

	r := NewRunner(s)
	r.Start()
	s.Update(items("a", "b"), nil)

	select {
	case <-rotated:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not rotate")
	}

	r.Stop()
	r.Stop()
}

func TestRunnerStopBeforeStart(t *testing.T) {
	r := NewRunner(NewScheduler(DefaultConfig(), nil, nil, log))

	done := make(chan struct{})
	go func() {
		r.Stop()
		r.Start()
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop before start blocked")
	}
}
