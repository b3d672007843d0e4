package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/notification"
	"github.com/gorilla/websocket"
)

// DefaultEventName is the hub event that carries one notification.
const DefaultEventName = "ReceiveNotification"

// Frame types of the hub wire protocol.
const (
	FrameEvent = "event"
	FramePing  = "ping"
	FrameClose = "close"
)

// Frame is one JSON text message on the hub socket.
type Frame struct {
	Type   string          `json:"type"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// WebSocketOptions configures the WebSocket transport.
type WebSocketOptions struct {
	URL              string
	EventName        string
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// WebSocketTransport dials the notification hub over a WebSocket.
type WebSocketTransport struct {
	url          *url.URL
	eventName    string
	pingInterval time.Duration
	dialer       *websocket.Dialer
	logger       *logger.Logger
}

// NewWebSocketTransport validates the hub URL and creates a transport.
// http(s) URLs are rewritten to ws(s).
func NewWebSocketTransport(opts WebSocketOptions, logger *logger.Logger) (*WebSocketTransport, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid hub URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid hub URL scheme %q", u.Scheme)
	}

	eventName := opts.EventName
	if eventName == "" {
		eventName = DefaultEventName
	}

	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}

	return &WebSocketTransport{
		url:          u,
		eventName:    eventName,
		pingInterval: opts.PingInterval,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.WithComponent("hub-websocket"),
	}, nil
}

// Dial asks tokens for a fresh token and opens the socket with it.
func (t *WebSocketTransport) Dial(ctx context.Context, tokens TokenSource) (Stream, error) {
	token, err := tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	u := *t.url
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		connectErr := &ConnectError{URL: t.url.String(), Err: err}
		if resp != nil {
			connectErr.StatusCode = resp.StatusCode
		}
		return nil, connectErr
	}

	t.logger.Debug("hub socket opened", slog.String("url", t.url.String()))

	return newWebSocketStream(conn, t.eventName, t.pingInterval, t.logger), nil
}

type webSocketStream struct {
	conn         *websocket.Conn
	eventName    string
	pingInterval time.Duration
	logger       *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWebSocketStream(conn *websocket.Conn, eventName string, pingInterval time.Duration, logger *logger.Logger) *webSocketStream {
	s := &webSocketStream{
		conn:         conn,
		eventName:    eventName,
		pingInterval: pingInterval,
		logger:       logger,
		done:         make(chan struct{}),
	}

	if pingInterval > 0 {
		s.extendDeadline()
		conn.SetPongHandler(func(string) error {
			s.extendDeadline()
			return nil
		})
		go s.keepAlive()
	}

	return s
}

// Receive returns the next notification event. Frames for other events and
// undecodable frames are skipped.
func (s *webSocketStream) Receive() (notification.Item, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return notification.Item{}, err
		}
		if s.pingInterval > 0 {
			s.extendDeadline()
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case FrameEvent:
			if frame.Event != s.eventName {
				continue
			}

			var item notification.Item
			if err := json.Unmarshal(frame.Data, &item); err != nil {
				s.logger.Warn("skipping malformed notification", slog.String("error", err.Error()))
				continue
			}
			if item.ID == "" {
				s.logger.Warn("skipping notification without id")
				continue
			}
			return item, nil

		case FrameClose:
			return notification.Item{}, fmt.Errorf("%w: %s (%s)", ErrServerClosed, frame.Reason, frame.Code)
		}
	}
}

func (s *webSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}

func (s *webSocketStream) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
}

func (s *webSocketStream) keepAlive() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.pingInterval)); err != nil {
				s.logger.Debug("hub ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
