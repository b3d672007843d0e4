package logger

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	// ContextKeySessionID identifies one signed-in notification session.
	ContextKeySessionID contextKey = "session_id"
	ContextKeyOperation contextKey = "operation"
)

// contextKeys are copied onto log records, in this order, by WithContext.
var contextKeys = []contextKey{ContextKeyRequestID, ContextKeySessionID, ContextKeyOperation}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithSessionID adds a notification session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateSessionID generates a new notification session ID.
func GenerateSessionID() string {
	return uuid.New().String()
}
