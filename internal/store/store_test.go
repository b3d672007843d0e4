package store

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

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

// fetcherEmulator returns a fixed page and records the request.
type fetcherEmulator struct {
	items    []notification.Item
	err      error
	page     int
	pageSize int
	calls    int
}

func (f *fetcherEmulator) ListNotifications(ctx context.Context, page, pageSize int) ([]notification.Item, error) {
	f.calls++
	f.page = page
	f.pageSize = pageSize
	return f.items, f.err
}

func item(id string, read bool) notification.Item {
	return notification.Item{ID: id, Title: "title " + id, IsRead: read}
}

func ids(items []notification.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func assertIDs(t *testing.T, got []notification.Item, want ...string) {
	t.Helper()

	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, gotIDs)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, gotIDs)
		}
	}
}

func TestSelectDisplaySet(t *testing.T) {
	tests := []struct {
		name  string
		items []notification.Item
		want  []string
	}{
		{
			name:  "unread only",
			items: []notification.Item{item("a", false), item("b", true)},
			want:  []string{"a"},
		},
		{
			name:  "all read falls back to three most recent",
			items: []notification.Item{item("a", true), item("b", true), item("c", true), item("d", true)},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "all unread keeps order",
			items: []notification.Item{item("a", false), item("b", false), item("c", false), item("d", false)},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name:  "mixed keeps unread order",
			items: []notification.Item{item("a", true), item("b", false), item("c", true), item("d", false)},
			want:  []string{"b", "d"},
		},
		{
			name:  "fewer read items than fallback",
			items: []notification.Item{item("a", true), item("b", true)},
			want:  []string{"a", "b"},
		},
		{
			name:  "empty page",
			items: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertIDs(t, SelectDisplaySet(tt.items, DefaultFallbackCount), tt.want...)
		})
	}
}

func TestBootstrapRequestsFirstSmallPage(t *testing.T) {
	fetcher := &fetcherEmulator{items: []notification.Item{item("a", false), item("b", true)}}
	s := New(fetcher, log, Options{})

	display, err := s.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	if fetcher.page != 1 || fetcher.pageSize != DefaultPageSize {
		t.Errorf("expected page 1 size %d, got page %d size %d", DefaultPageSize, fetcher.page, fetcher.pageSize)
	}
	assertIDs(t, display, "a")
	assertIDs(t, s.Snapshot(), "a")
}

func TestBootstrapCapsUnreadToCapacity(t *testing.T) {
	var page []notification.Item
	for i := 0; i < 8; i++ {
		page = append(page, item(fmt.Sprintf("n%d", i), false))
	}
	s := New(&fetcherEmulator{items: page}, log, Options{})

	if _, err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	assertIDs(t, s.Snapshot(), "n0", "n1", "n2", "n3", "n4")
}

func TestBootstrapFailure(t *testing.T) {
	cause := errors.New("503 service unavailable")
	fetcher := &fetcherEmulator{err: cause}
	s := New(fetcher, log, Options{})

	_, err := s.Bootstrap(context.Background())

	var bootstrapErr *BootstrapError
	if !errors.As(err, &bootstrapErr) {
		t.Fatalf("expected BootstrapError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("bootstrap error should wrap the fetch error")
	}
	if fetcher.calls != 1 {
		t.Errorf("bootstrap must not retry, got %d calls", fetcher.calls)
	}

	// Pushes still populate the working set.
	s.OnPush(item("p", false))
	assertIDs(t, s.Snapshot(), "p")
}

func TestBootstrapMergesBehindPushedItems(t *testing.T) {
	fetcher := &fetcherEmulator{items: []notification.Item{item("a", false), item("b", false), item("c", false)}}
	s := New(fetcher, log, Options{})

	s.OnPush(notification.Item{ID: "b", Title: "pushed b"})
	s.OnPush(item("x", false))

	if _, err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	got := s.Snapshot()
	assertIDs(t, got, "x", "b", "a", "c")
	if got[1].Title != "pushed b" {
		t.Errorf("pushed content should win over bootstrap, got %q", got[1].Title)
	}
}

func TestOnPushInsertsAtFront(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{})

	s.OnPush(item("a", false))
	s.OnPush(item("b", false))
	s.OnPush(item("c", false))

	assertIDs(t, s.Snapshot(), "c", "b", "a")
}

func TestOnPushDuplicateMovesToFront(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{})
	for _, id := range []string{"a", "b", "c", "d"} {
		s.OnPush(item(id, false))
	}

	for _, id := range []string{"a", "d", "b", "b", "c"} {
		before := len(s.Snapshot())
		s.OnPush(notification.Item{ID: id, Title: "again " + id})
		after := s.Snapshot()

		if len(after) != before {
			t.Fatalf("pushing existing id %s changed length %d -> %d", id, before, len(after))
		}
		if after[0].ID != id {
			t.Fatalf("pushing existing id %s should move it to index 0, got %v", id, ids(after))
		}
		if after[0].Title != "again "+id {
			t.Errorf("expected replaced content, got %q", after[0].Title)
		}
	}
}

func TestOnPushDropsOldestBeyondCapacity(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{Capacity: 3})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.OnPush(item(id, false))
	}

	assertIDs(t, s.Snapshot(), "e", "d", "c")
}

func TestReconnectRedeliveryUpdatesInPlace(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{})

	s.OnPush(notification.Item{ID: "a", Title: "first"})
	s.OnPush(notification.Item{ID: "b", Title: "second"})

	// Same id redelivered after a reconnect with newer content.
	s.OnPush(notification.Item{ID: "a", Title: "first (edited)"})

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected length 2, got %d", len(got))
	}
	if got[0].ID != "a" || got[0].Title != "first (edited)" {
		t.Errorf("expected updated a at index 0, got %+v", got[0])
	}
}

func TestSubscribeObservesChangesInOrder(t *testing.T) {
	s := New(&fetcherEmulator{items: []notification.Item{item("z", false)}}, log, Options{})

	var changes []notification.Change
	unsubscribe := s.Subscribe(func(c notification.Change) {
		changes = append(changes, c)
	})

	s.OnPush(item("a", false))
	if _, err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	s.Reset()

	unsubscribe()
	s.OnPush(item("ignored", false))

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[0].Pushed == nil || changes[0].Pushed.ID != "a" {
		t.Errorf("first change should carry the pushed item")
	}
	assertIDs(t, changes[1].Items, "a", "z")
	if changes[1].Pushed != nil {
		t.Error("bootstrap change should not carry a pushed item")
	}
	if len(changes[2].Items) != 0 {
		t.Errorf("reset should clear the working set, got %v", ids(changes[2].Items))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{})
	s.OnPush(item("a", false))

	snap := s.Snapshot()
	snap[0].Title = "mutated"

	if s.Snapshot()[0].Title == "mutated" {
		t.Error("snapshot should not alias the working set")
	}
}

func TestConcurrentPushesKeepInvariants(t *testing.T) {
	s := New(&fetcherEmulator{}, log, Options{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.OnPush(item(fmt.Sprintf("n%d", (g+i)%7), false))
			}
		}(g)
	}
	wg.Wait()

	got := s.Snapshot()
	if len(got) != DefaultCapacity {
		t.Fatalf("expected %d items, got %d", DefaultCapacity, len(got))
	}
	seen := map[string]bool{}
	for _, it := range got {
		if seen[it.ID] {
			t.Fatalf("duplicate id %s in working set %v", it.ID, ids(got))
		}
		seen[it.ID] = true
	}
}
