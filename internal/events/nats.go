package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/nats-io/nats.go"
)

// ChangedSubject is the NATS subject change events are published on.
const ChangedSubject = "notifications.changed"

// NATSBroadcaster publishes change events on NATS so UIs in other processes
// can follow the working set.
type NATSBroadcaster struct {
	nc         *nats.Conn
	subject    string
	instanceID string
	logger     *logger.Logger
}

// NewNATSBroadcaster returns nil if nc is nil.
func NewNATSBroadcaster(nc *nats.Conn, instanceID string, logger *logger.Logger) *NATSBroadcaster {
	if nc == nil {
		return nil
	}

	return &NATSBroadcaster{
		nc:         nc,
		subject:    ChangedSubject,
		instanceID: instanceID,
		logger:     logger.WithComponent("events-nats"),
	}
}

func (b *NATSBroadcaster) Publish(ctx context.Context, event ChangedEvent) error {
	event.InstanceID = b.instanceID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.subject, err)
	}

	b.logger.Debug("published change event",
		slog.String("subject", b.subject),
		slog.String("session_id", event.SessionID),
		slog.Int("count", event.Count))

	return nil
}

// Relay feeds change events published by other instances into a local
// broadcaster. Events from its own instance are ignored.
type Relay struct {
	nc           *nats.Conn
	target       Broadcaster
	instanceID   string
	logger       *logger.Logger
	subscription *nats.Subscription
}

// NewRelay returns nil if nc is nil.
func NewRelay(nc *nats.Conn, target Broadcaster, instanceID string, logger *logger.Logger) *Relay {
	if nc == nil {
		return nil
	}

	return &Relay{
		nc:         nc,
		target:     target,
		instanceID: instanceID,
		logger:     logger.WithComponent("events-relay"),
	}
}

// Start subscribes to the change subject.
func (r *Relay) Start() error {
	sub, err := r.nc.Subscribe(ChangedSubject, r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ChangedSubject, err)
	}

	r.subscription = sub
	r.logger.Info("change relay started",
		slog.String("subject", ChangedSubject),
		slog.String("instance_id", r.instanceID))

	return nil
}

// Stop drains the subscription.
func (r *Relay) Stop() error {
	if r.subscription != nil {
		if err := r.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	r.logger.Info("change relay stopped")
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	var event ChangedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		r.logger.Warn("received invalid change event", slog.String("error", err.Error()))
		return
	}

	if event.InstanceID == r.instanceID {
		return
	}

	if err := r.target.Publish(context.Background(), event); err != nil {
		r.logger.Warn("failed to relay change event", slog.String("error", err.Error()))
	}
}
