package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/eternisai/enchanted-notify/internal/errors"
	"github.com/eternisai/enchanted-notify/internal/events"
	"github.com/eternisai/enchanted-notify/internal/hub"
	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/session"
	"github.com/eternisai/enchanted-notify/internal/ticker"
	"github.com/gin-gonic/gin"
)

// TokenWriter is the part of the token store the sign-in endpoint feeds.
type TokenWriter interface {
	Set(accessToken, refreshToken string)
	Clear()
}

// NetworkReporter receives connectivity changes from the host.
type NetworkReporter interface {
	Online() bool
	SetOnline(online bool)
}

// NetworkRequest is the body of POST /api/v1/network.
type NetworkRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SessionRequest is the body of POST /api/v1/session.
type SessionRequest struct {
	Authenticated *bool  `json:"authenticated" binding:"required"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
}

// SessionResponse describes the session after a sign-in or sign-out.
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	SessionID     string `json:"sessionId,omitempty"`
	Connection    string `json:"connection"`
}

// TickerResponse is the body of GET /api/v1/ticker.
type TickerResponse struct {
	SessionID  string       `json:"sessionId"`
	Connection string       `json:"connection"`
	Ticker     ticker.State `json:"ticker"`
}

// Handler serves the local status and control API of the daemon.
type Handler struct {
	controller *session.Controller
	tokens     TokenWriter
	network    NetworkReporter
	bus        *events.Bus
	logger     *logger.Logger
	startedAt  time.Time
}

// NewHandler creates the handler. A nil network or bus disables the matching
// endpoint.
func NewHandler(controller *session.Controller, tokens TokenWriter, network NetworkReporter, bus *events.Bus, logger *logger.Logger) *Handler {
	return &Handler{
		controller: controller,
		tokens:     tokens,
		network:    network,
		bus:        bus,
		logger:     logger.WithComponent("status"),
		startedAt:  time.Now(),
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	connection := hub.StateDisconnected
	s := h.controller.Current()
	if s != nil {
		connection = s.ConnectionState()
	}

	online := true
	if h.network != nil {
		online = h.network.Online()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"online":     online,
		"signedIn":   s != nil,
		"connection": connection.String(),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ticker handles GET /api/v1/ticker.
func (h *Handler) Ticker(c *gin.Context) {
	s := h.controller.Current()
	if s == nil {
		apierrors.AbortWithConflict(c, apierrors.CodeSignedOut, "No active notification session")
		return
	}

	c.JSON(http.StatusOK, TickerResponse{
		SessionID:  s.ID,
		Connection: s.ConnectionState().String(),
		Ticker:     s.Ticker(),
	})
}

// Click handles POST /api/v1/ticker/click.
func (h *Handler) Click(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	s := h.controller.Current()
	if s == nil {
		apierrors.AbortWithConflict(c, apierrors.CodeSignedOut, "No active notification session")
		return
	}

	path, err := s.Click(c.Request.Context())
	if err != nil {
		if errors.Is(err, ticker.ErrNothingDisplayed) {
			apierrors.AbortWithConflict(c, apierrors.CodeNothingDisplayed, "Ticker is empty")
			return
		}
		log.Warn("ticker click navigation failed", slog.String("path", path), slog.String("error", err.Error()))
		apierrors.AbortWithBadGateway(c, apierrors.CodeNavigationFailed, "Navigation failed", map[string]interface{}{
			"path": path,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": path})
}

// SetSession handles POST /api/v1/session, the host's auth signal.
func (h *Handler) SetSession(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid session request", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	if *req.Authenticated {
		if req.AccessToken != "" {
			h.tokens.Set(req.AccessToken, req.RefreshToken)
		}
		if err := h.controller.SetAuthenticated(c.Request.Context(), true); err != nil {
			log.Error("failed to start notification session", slog.String("error", err.Error()))
			apierrors.AbortWithInternal(c, "Failed to start session", nil)
			return
		}
	} else {
		if err := h.controller.SetAuthenticated(c.Request.Context(), false); err != nil {
			log.Warn("notification session did not stop cleanly", slog.String("error", err.Error()))
		}
		h.tokens.Clear()
	}

	resp := SessionResponse{
		Authenticated: *req.Authenticated,
		Connection:    hub.StateDisconnected.String(),
	}
	if s := h.controller.Current(); s != nil {
		resp.SessionID = s.ID
		resp.Connection = s.ConnectionState().String()
	}

	log.Info("auth signal applied", slog.Bool("authenticated", resp.Authenticated))
	c.JSON(http.StatusOK, resp)
}

// SetNetwork handles POST /api/v1/network. Going online wakes a connection
// manager that is waiting out an offline period.
func (h *Handler) SetNetwork(c *gin.Context) {
	if h.network == nil {
		apierrors.AbortWithConflict(c, apierrors.CodeInvalidRequest, "Network reporting is disabled")
		return
	}

	var req NetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Invalid network request", map[string]interface{}{
			"reason": err.Error(),
		})
		return
	}

	h.network.SetOnline(*req.Online)
	h.logger.WithContext(c.Request.Context()).Info("network state reported", slog.Bool("online", *req.Online))

	c.JSON(http.StatusOK, gin.H{"online": *req.Online})
}

// Events handles GET /api/v1/events, a server-sent event stream of working
// set changes.
func (h *Handler) Events(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	if h.bus == nil {
		apierrors.AbortWithConflict(c, apierrors.CodeInvalidRequest, "Event stream is disabled")
		return
	}

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error("response writer does not support flushing")
		apierrors.AbortWithInternal(c, "Streaming not supported", nil)
		return
	}

	subscriberID := logger.GenerateRequestID()
	sub := h.bus.Subscribe(c.Request.Context(), subscriberID, 16)
	defer h.bus.Unsubscribe(subscriberID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	log.Debug("event stream opened", slog.String("subscriber_id", subscriberID))

	for event := range sub.Ch {
		data, err := json.Marshal(event)
		if err != nil {
			log.Error("failed to marshal change event", slog.String("error", err.Error()))
			continue
		}

		if _, err := fmt.Fprintf(w, "event: changed\ndata: %s\n\n", data); err != nil {
			log.Debug("event stream write failed", slog.String("error", err.Error()))
			return
		}
		flusher.Flush()
	}

	log.Debug("event stream closed", slog.String("subscriber_id", subscriberID))
}

// Register mounts the API on router. Everything under /api/v1 requires the
// control token when one is configured.
func Register(router gin.IRouter, h *Handler, controlToken string) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1")
	api.Use(RequireControlToken(controlToken))
	{
		api.GET("/ticker", h.Ticker)
		api.POST("/ticker/click", h.Click)
		api.POST("/session", h.SetSession)
		api.POST("/network", h.SetNetwork)
		api.GET("/events", h.Events)
	}
}
