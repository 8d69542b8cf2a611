package domain

import (
	"context"
	"time"
)

// EventType names an observable state change.
type EventType string

const (
	EventBindingChanged       EventType = "binding_changed"
	EventBindingRemoved       EventType = "binding_removed"
	EventOwnershipTransferred EventType = "ownership_transferred"
	EventPriceRequested       EventType = "price_requested"
	EventRequestFulfilled     EventType = "request_fulfilled"
)

// Event is published after a state change commits.
type Event struct {
	Type       EventType         `json:"type"`
	Identifier string            `json:"identifier,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	Token      string            `json:"token,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// EventPublisher fans committed events out to observers.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSource lets observers follow committed events.
type EventSource interface {
	// Subscribe streams events published after the call until ctx is done,
	// then closes the channel.
	Subscribe(ctx context.Context) (<-chan Event, error)
	// Recent returns up to limit of the latest events, oldest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
