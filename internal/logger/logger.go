package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// instanceID tells apart daemons that share a NATS subject or a log sink.
var instanceID = resolveInstanceID()

func resolveInstanceID() string {
	for _, key := range []string{"INSTANCE_ID", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}

	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// GetInstanceID returns the instance ID for this process.
func GetInstanceID() string {
	return instanceID
}

// Config holds the configuration of the logger.
type Config struct {
	Level slog.Level
	// Format is "text" (colored, for terminals) or "json".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
}

// Logger wraps slog.Logger with the daemon's context helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger tagged with the instance id.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	return &Logger{
		Logger: slog.New(newHandler(out, config)).With(slog.String("instance_id", instanceID)),
	}
}

func newHandler(out io.Writer, config Config) slog.Handler {
	if config.Format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level:     config.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.String(a.Key, a.Value.Time().Format(time.RFC3339Nano))
				}
				return a
			},
		})
	}

	return tint.NewHandler(out, &tint.Options{
		Level:      config.Level,
		AddSource:  config.Level <= slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})
}

// FromConfig builds a logger config from the LOG_LEVEL and LOG_FORMAT
// settings. Unknown levels fall back to info. APP_ENV=production forces JSON.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{
		Level:  slog.LevelInfo,
		Format: "text",
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err == nil {
		config.Level = level
	}

	if logFormat != "" {
		config.Format = strings.ToLower(logFormat)
	}

	if os.Getenv("APP_ENV") == "production" {
		config.Format = "json"
	}

	return config
}

// WithContext returns a logger carrying the ids stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(slog.String(string(key), v))
		}
	}

	return &Logger{Logger: logger}
}

// WithComponent creates a new logger with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("component", component)),
	}
}

// WithFields creates a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.With(args...),
	}
}

// LogError logs an error with the ids from ctx.
func (l *Logger) LogError(ctx context.Context, err error, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(msg, append([]interface{}{slog.String("error", err.Error())}, args...)...)
}

// LogOperation times fn and logs its outcome under the given operation name.
func (l *Logger) LogOperation(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	logger := l.WithContext(WithOperation(ctx, operation))

	logger.Debug("operation started")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.Warn("operation failed",
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return err
	}

	logger.Debug("operation completed", slog.Duration("duration", duration))
	return nil
}
