package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshLookahead is how close to expiry a token may get before the
// guard refreshes it.
const DefaultRefreshLookahead = 60 * time.Second

// Guard hands out access tokens that will not expire within the lookahead
// window. It is consulted on every connection attempt, never cached.
type Guard struct {
	store     TokenStore
	lookahead time.Duration
	now       func() time.Time
	logger    *logger.Logger
	refreshes singleflight.Group
}

// NewGuard creates a token guard. A non-positive lookahead uses the default.
func NewGuard(store TokenStore, lookahead time.Duration, logger *logger.Logger) *Guard {
	if lookahead <= 0 {
		lookahead = DefaultRefreshLookahead
	}

	return &Guard{
		store:     store,
		lookahead: lookahead,
		now:       time.Now,
		logger:    logger.WithComponent("token-guard"),
	}
}

// GetValidToken returns the current access token, refreshing it first when it
// expires within the lookahead window.
func (g *Guard) GetValidToken(ctx context.Context) (string, error) {
	token, err := g.store.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	if token == "" {
		return "", ErrNoToken
	}

	info, err := DecodeToken(token)
	if err != nil {
		g.logger.Warn("access token could not be decoded", slog.String("error", err.Error()))
		return "", err
	}

	// Tokens without an expiry never need a refresh.
	if info.ExpiresAt.IsZero() {
		return token, nil
	}

	remaining := info.ExpiresAt.Sub(g.now())
	if remaining > g.lookahead {
		return token, nil
	}

	g.logger.Debug("access token close to expiry, refreshing",
		slog.String("user_id", info.UserID),
		slog.Duration("remaining", remaining))

	// Concurrent callers share one refresh. It runs detached from the caller
	// that started it; each caller stops waiting when its own ctx is done.
	refreshCtx := context.WithoutCancel(ctx)
	ch := g.refreshes.DoChan("refresh", func() (interface{}, error) {
		return g.store.Refresh(refreshCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, ctx.Err())
	}

	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	refreshed, _ := v.(string)
	if refreshed == "" {
		return "", fmt.Errorf("%w: empty token returned", ErrRefreshFailed)
	}

	return refreshed, nil
}
