package hub

import (
	"math/rand"
	"time"
)

// BackoffPolicy decides how long to wait before the next reconnect attempt.
//
// While the outage is young (less than FastWindow since the last successful
// connection) retries are fast and jittered in [0, MaxJitter). Once the outage
// outlasts FastWindow the manager settles into a steady SlowDelay cadence.
type BackoffPolicy struct {
	FastWindow time.Duration
	MaxJitter  time.Duration
	SlowDelay  time.Duration

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoffPolicy returns the 60s / [0,5s) / 10s policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		FastWindow: 60 * time.Second,
		MaxJitter:  5 * time.Second,
		SlowDelay:  10 * time.Second,
	}
}

// NextDelay returns the retry delay given the time elapsed since the last
// successful connection.
func (p BackoffPolicy) NextDelay(sinceLastSuccess time.Duration) time.Duration {
	if sinceLastSuccess < p.FastWindow {
		if p.MaxJitter <= 0 {
			return 0
		}
		r := p.random()
		delay := time.Duration(r * float64(p.MaxJitter))
		if delay >= p.MaxJitter {
			delay = p.MaxJitter - 1
		}
		return delay
	}
	return p.SlowDelay
}

func (p BackoffPolicy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}
