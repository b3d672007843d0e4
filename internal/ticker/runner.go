package ticker

import (
	"sync"
	"time"
)

// Runner drives a Scheduler with real timers.
type Runner struct {
	scheduler *Scheduler

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewRunner creates a runner for s. Call Start to begin.
func NewRunner(s *Scheduler) *Runner {
	return &Runner{
		scheduler: s,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the timer loop.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

// Stop ends the loop and waits for it. Safe to call multiple times, and
// before Start.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})

	started := true
	r.startOnce.Do(func() {
		started = false
		close(r.done)
	})
	if started {
		<-r.done
	}
}

func (r *Runner) loop() {
	defer close(r.done)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)

	for {
		var fire <-chan time.Time
		if next, ok := r.scheduler.NextDeadline(); ok {
			delay := next.Sub(r.scheduler.clock.Now())
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
			fire = timer.C
		}

		select {
		case <-r.stop:
			stopTimer(timer)
			return
		case <-r.scheduler.Wake():
			stopTimer(timer)
		case <-fire:
			r.scheduler.Tick()
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
