package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eternisai/enchanted-notify/internal/auth"
	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
)

const notificationsPath = "/api/notifications"

// ListResponse is one page of the notification list endpoint.
type ListResponse struct {
	Items    []notification.Item `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	Total    int                 `json:"total"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("notifications API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("notifications API returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the notification REST API. Every request carries a bearer
// token obtained from the token source at send time.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, tokens auth.TokenSource, logger *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: auth.NewBearerTransport(tokens),
		},
		logger: logger.WithComponent("notifications-api"),
	}
}

// ListNotifications fetches one page of the user's notifications, most recent
// first. Both the paged object and a bare JSON array are accepted.
func (c *Client) ListNotifications(ctx context.Context, page, pageSize int) ([]notification.Item, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+notificationsPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call notifications API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode notifications response: %w", err)
	}

	c.logger.Debug("fetched notifications",
		slog.Int("page", page),
		slog.Int("page_size", pageSize),
		slog.Int("count", len(items)))

	return items, nil
}

func decodeItems(body []byte) ([]notification.Item, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []notification.Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var page ListResponse
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
