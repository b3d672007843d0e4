package hub

import (
	"testing"
	"time"
)

func TestBackoffFastWindowIsJittered(t *testing.T) {
	values := []float64{0, 0.1, 0.5, 0.999, 0.9999999999}
	i := 0
	policy := DefaultBackoffPolicy()
	policy.Rand = func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}

	for attempt := 0; attempt < 20; attempt++ {
		elapsed := time.Duration(attempt) * 3 * time.Second // stays under 60s
		delay := policy.NextDelay(elapsed)
		if delay < 0 || delay >= 5*time.Second {
			t.Fatalf("attempt %d at %v: delay %v outside [0, 5s)", attempt, elapsed, delay)
		}
	}
}

func TestBackoffDefaultRandomStaysInRange(t *testing.T) {
	policy := DefaultBackoffPolicy()

	for i := 0; i < 1000; i++ {
		delay := policy.NextDelay(59 * time.Second)
		if delay < 0 || delay >= 5*time.Second {
			t.Fatalf("delay %v outside [0, 5s)", delay)
		}
	}
}

func TestBackoffSlowCadenceAfterWindow(t *testing.T) {
	policy := DefaultBackoffPolicy()

	for _, elapsed := range []time.Duration{60 * time.Second, 61 * time.Second, 10 * time.Minute, 24 * time.Hour} {
		if delay := policy.NextDelay(elapsed); delay != 10*time.Second {
			t.Errorf("elapsed %v: expected 10s, got %v", elapsed, delay)
		}
	}
}

func TestBackoffCustomPolicy(t *testing.T) {
	policy := BackoffPolicy{
		FastWindow: 30 * time.Second,
		MaxJitter:  time.Second,
		SlowDelay:  time.Minute,
		Rand:       func() float64 { return 0.5 },
	}

	if got := policy.NextDelay(10 * time.Second); got != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", got)
	}
	if got := policy.NextDelay(31 * time.Second); got != time.Minute {
		t.Errorf("expected 1m, got %v", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateReconnecting:  "reconnecting",
		StateDisconnecting: "disconnecting",
		State(42):          "unknown",
	}

	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}
