package manager

import (
	"time"

	"github.com/kelindar/event"

	"github.com/loykin/respawn/internal/process"
)

// TypeTransition identifies TransitionEvent on the bus.
const TypeTransition uint32 = 0x52530001

// TransitionEvent is published for every state change of a managed process.
type TransitionEvent struct {
	Name     string
	From     process.State
	To       process.State
	PID      int
	RunID    string
	Restarts int
	ExitCode int
	Signal   string
	Err      string
	At       time.Time
}

// Type implements event.Event.
func (TransitionEvent) Type() uint32 { return TypeTransition }

// Bus wraps a kelindar/event dispatcher for transition broadcasting.
// Handlers run on the dispatcher's goroutines, never on a unit's loop.
type Bus struct {
	dispatcher *event.Dispatcher
}

func NewBus() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

func (b *Bus) Publish(e TransitionEvent) {
	event.Publish(b.dispatcher, e)
}

// Subscribe registers fn and returns a function that cancels it.
func (b *Bus) Subscribe(fn func(TransitionEvent)) func() {
	return event.Subscribe(b.dispatcher, fn)
}

func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
