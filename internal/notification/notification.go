// Package notification is the fire-and-forget sink for workflow events. Nothing here
// can fail or delay a workflow operation: events are queued, and delivery errors are
// logged and dropped.
package notification

import (
	"context"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
)

// Envelope is the wire form of an event, shared by every deliverer.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

func FromEvent(e events.Event) Envelope {
	return Envelope{
		ID:         e.EventID(),
		Type:       e.EventType(),
		OccurredAt: e.OccurredAt(),
		Data:       e.Payload(),
	}
}

type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}
