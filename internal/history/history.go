package history

import (
	"context"
	"time"

	"github.com/loykin/taskctl/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunched  EventType = "launched"
	EventCompleted EventType = "completed"
	EventStopped   EventType = "stopped"
	EventRepaired  EventType = "repaired"
	EventRenamed   EventType = "renamed"
	EventCleared   EventType = "cleared"
)

// Event represents a lifecycle event to be exported to external systems.
// Record is the task state right after the transition (right before it for cleared).
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can be queried back.
type Reader interface {
	// Recent returns up to limit events, newest first. An empty name matches every task.
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
}
