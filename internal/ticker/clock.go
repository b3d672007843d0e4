package ticker

import "time"

// Clock is the scheduler's time source. Tests drive a virtual one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
