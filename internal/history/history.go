package history

import (
	"context"
	"time"
)

// EventType classifies a transition for consumers that do not track states.
type EventType string

const (
	EventStart   EventType = "start"   // a run was spawned
	EventExit    EventType = "exit"    // a run ended, requested or not
	EventErrored EventType = "errored" // launch failure or restart budget exhausted
	EventState   EventType = "state"   // any other transition
)

// Event is one lifecycle transition exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	Name       string    `json:"name"`
	RunID      string    `json:"run_id,omitempty"`
	PID        int       `json:"pid"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ExitCode   int       `json:"exit_code"`
	Signal     string    `json:"signal,omitempty"`
	Restarts   int       `json:"restarts"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TypeFor derives the event type of a from->to transition.
func TypeFor(from, to string) EventType {
	switch {
	case to == "running":
		return EventStart
	case to == "errored":
		return EventErrored
	case from == "running" || from == "stopping":
		return EventExit
	default:
		return EventState
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
