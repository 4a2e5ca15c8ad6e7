// Package eventbus carries execution lifecycle events, notifications and trigger requests between processes.
package eventbus

import (
	"context"

	"github.com/dukex/followup/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events partitioned by key. The engine keys execution events by execution id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes each received event to the handler registered for its type.
// A handler error nacks the message so the transport redelivers it.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.TriggerRequested.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
