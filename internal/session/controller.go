package session

import (
	"context"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
)

const signOutTimeout = 5 * time.Second

// Controller follows the host's "is authenticated" signal: sign-in builds and
// starts a session, sign-out stops and discards it. At most one session
// exists at a time.
type Controller struct {
	cfg    Config
	deps   Dependencies
	logger *logger.Logger

	mu      sync.Mutex
	current *Session
}

// NewController creates a signed-out controller.
func NewController(cfg Config, deps Dependencies, logger *logger.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// SetAuthenticated applies one auth signal. Repeating the current state is a
// no-op.
func (c *Controller) SetAuthenticated(ctx context.Context, authenticated bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if authenticated {
		if c.current != nil {
			return nil
		}
		s := New(c.cfg, c.deps, c.logger)
		s.Start(ctx)
		c.current = s
		return nil
	}

	if c.current == nil {
		return nil
	}
	s := c.current
	c.current = nil
	return s.Stop(ctx)
}

// Current returns the live session, or nil when signed out.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Watch applies signals until the channel closes or ctx is done, then signs
// out.
func (c *Controller) Watch(ctx context.Context, signals <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signOutTimeout)
			defer cancel()
			return c.SetAuthenticated(stopCtx, false)
		case authenticated, ok := <-signals:
			if !ok {
				return c.SetAuthenticated(ctx, false)
			}
			if err := c.SetAuthenticated(ctx, authenticated); err != nil {
				c.logger.LogError(ctx, err, "failed to apply auth signal")
			}
		}
	}
}
