package events

import (
	"context"
	"errors"
	"time"

	"github.com/eternisai/enchanted-notify/internal/notification"
)

// ChangedEvent is the process-wide "working set changed" signal. It carries
// enough for a badge or list UI to refresh without talking to the store.
type ChangedEvent struct {
	SessionID   string              `json:"session_id"`
	InstanceID  string              `json:"instance_id,omitempty"`
	Count       int                 `json:"count"`
	UnreadCount int                 `json:"unread_count"`
	PushedID    string              `json:"pushed_id,omitempty"`
	Items       []notification.Item `json:"items"`
	At          time.Time           `json:"at"`
}

// NewChangedEvent builds the event for a store change.
func NewChangedEvent(sessionID string, change notification.Change) ChangedEvent {
	event := ChangedEvent{
		SessionID:   sessionID,
		Count:       len(change.Items),
		UnreadCount: change.UnreadCount(),
		Items:       change.Items,
		At:          change.At,
	}
	if event.Items == nil {
		event.Items = []notification.Item{}
	}
	if change.Pushed != nil {
		event.PushedID = change.Pushed.ID
	}
	return event
}

// Broadcaster delivers change events to whoever is listening.
type Broadcaster interface {
	Publish(ctx context.Context, event ChangedEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(ctx context.Context, event ChangedEvent) error { return nil }

// Fanout publishes to every broadcaster and joins their errors.
type Fanout []Broadcaster

func (f Fanout) Publish(ctx context.Context, event ChangedEvent) error {
	var errs []error
	for _, b := range f {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
