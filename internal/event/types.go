// Package event defines the observer bus that the supervision subsystems use
// to hand lifecycle transitions, activity and alerts to their consumers.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns an identifier using the "category.action" convention
	// (e.g. "poller.activity", "health.updated").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Base provides the common fields of an event. Embed it in concrete event
// types to satisfy Event.
type Base struct {
	Type string
	At   time.Time
}

func (e Base) EventType() string    { return e.Type }
func (e Base) Timestamp() time.Time { return e.At }

// NewBase creates a Base stamped with at. Subsystems pass their clock's time
// so events line up with virtual time in tests.
func NewBase(eventType string, at time.Time) Base {
	return Base{Type: eventType, At: at}
}

// Typed adapts a handler for one concrete event type. Events of other types
// are ignored.
func Typed[T Event](fn func(T)) Handler {
	return func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	}
}
