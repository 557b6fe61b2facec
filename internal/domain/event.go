package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Notification is an asynchronous DISPATCH event received from the peer.
type Notification struct {
	Type      Event           `json:"evt"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NotificationHandler is a callback invoked when a notification is received.
type NotificationHandler func(ctx context.Context, n Notification)

// EventBus provides a publish/subscribe mechanism for peer notifications.
type EventBus interface {
	// Publish sends a notification to all matching subscribers.
	Publish(ctx context.Context, n Notification)
	// Subscribe registers a handler for a specific event.
	// Returns an unsubscribe function.
	Subscribe(evt Event, handler NotificationHandler) func()
	// SubscribeAll registers a handler that receives every notification.
	// Returns an unsubscribe function.
	SubscribeAll(handler NotificationHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
