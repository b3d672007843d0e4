package status

import (
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	apierrors "github.com/eternisai/enchanted-notify/internal/errors"
	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestLogging tags every request with an id, reusing the caller's when
// given, and logs the outcome. Event streams are logged when they end.
func RequestLogging(log *logger.Logger) gin.HandlerFunc {
	base := log.WithComponent("http")

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		ctx = logger.WithOperation(ctx, c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		level := slog.LevelInfo
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}

		base.WithContext(ctx).Log(ctx, level, "request completed",
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", c.ClientIP()),
		)
	}
}

// RequireControlToken protects the control endpoints with a shared bearer
// token. An empty token disables the check.
func RequireControlToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")

		// EventSource cannot set headers; accept the token as a query parameter.
		if authHeader == "" {
			if q := c.Query("token"); q != "" {
				authHeader = "Bearer " + q
			}
		}

		if authHeader == "" {
			apierrors.AbortWithUnauthorized(c, "Authorization header is required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierrors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token")
			return
		}

		presented := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			apierrors.AbortWithUnauthorized(c, "Invalid control token")
			return
		}

		c.Next()
	}
}
