package deeplink

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
)

// Paths are the navigation targets. Templates use {followerId}, {storyId}
// and {chapterId} placeholders.
type Paths struct {
	Revenue       string `yaml:"revenue"`
	RankUpgrade   string `yaml:"rank_upgrade"`
	Profile       string `yaml:"profile"`
	Follower      string `yaml:"follower"`
	Story         string `yaml:"story"`
	Chapter       string `yaml:"chapter"`
	Notifications string `yaml:"notifications"`
}

// DefaultPaths returns the built-in route table.
func DefaultPaths() Paths {
	return Paths{
		Revenue:       "/dashboard/revenue",
		RankUpgrade:   "/author/rank",
		Profile:       "/profile",
		Follower:      "/users/{followerId}",
		Story:         "/stories/{storyId}",
		Chapter:       "/stories/{storyId}/chapters/{chapterId}",
		Notifications: "/notifications",
	}
}

// Merge returns p with empty entries taken from defaults.
func (p Paths) Merge(defaults Paths) Paths {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}

	return Paths{
		Revenue:       pick(p.Revenue, defaults.Revenue),
		RankUpgrade:   pick(p.RankUpgrade, defaults.RankUpgrade),
		Profile:       pick(p.Profile, defaults.Profile),
		Follower:      pick(p.Follower, defaults.Follower),
		Story:         pick(p.Story, defaults.Story),
		Chapter:       pick(p.Chapter, defaults.Chapter),
		Notifications: pick(p.Notifications, defaults.Notifications),
	}
}

// Navigator is the host's router.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

func (f NavigatorFunc) Navigate(ctx context.Context, path string) error { return f(ctx, path) }

// Router maps notifications to navigation paths.
type Router struct {
	paths     Paths
	navigator Navigator
	logger    *logger.Logger
}

// NewRouter creates a router. Empty paths fall back to DefaultPaths.
func NewRouter(paths Paths, navigator Navigator, logger *logger.Logger) *Router {
	return &Router{
		paths:     paths.Merge(DefaultPaths()),
		navigator: navigator,
		logger:    logger.WithComponent("deeplink"),
	}
}

// Resolve returns the path for item. Items whose required payload fields are
// missing resolve to the notification list.
func (r *Router) Resolve(item notification.Item) string {
	switch target := item.Target().(type) {
	case notification.RevenueTarget:
		return r.paths.Revenue
	case notification.RankUpgradeTarget:
		return r.paths.RankUpgrade
	case notification.ProfileTarget:
		return r.paths.Profile
	case notification.FollowerTarget:
		return expand(r.paths.Follower, "followerId", target.FollowerID)
	case notification.StoryTarget:
		return expand(r.paths.Story, "storyId", target.StoryID)
	case notification.ChapterTarget:
		return expand(r.paths.Chapter, "storyId", target.StoryID, "chapterId", target.ChapterID)
	default:
		return r.paths.Notifications
	}
}

// Open navigates to item's path. The navigator is called exactly once.
func (r *Router) Open(ctx context.Context, item notification.Item) (string, error) {
	path := r.Resolve(item)

	r.logger.Debug("opening notification",
		slog.String("notification_id", item.ID),
		slog.String("type", string(item.Type)),
		slog.String("path", path))

	if err := r.navigator.Navigate(ctx, path); err != nil {
		r.logger.Warn("navigation failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return path, err
	}
	return path, nil
}

// expand fills {name} placeholders with path-escaped values.
func expand(template string, pairs ...string) string {
	args := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		args = append(args, "{"+pairs[i]+"}", url.PathEscape(pairs[i+1]))
	}
	return strings.NewReplacer(args...).Replace(template)
}

// LogNavigator records navigations in the log. Headless hosts use it when the
// path is handed back to the caller instead of routed locally.
type LogNavigator struct {
	Logger *logger.Logger
}

func (n LogNavigator) Navigate(ctx context.Context, path string) error {
	n.Logger.WithContext(ctx).Info("navigate", slog.String("path", path))
	return nil
}
