package poller

import (
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/event"
)

// Event types published by the poller.
const (
	EventActivity = "poller.activity"
	EventOutput   = "poller.output"
	EventError    = "poller.error"
)

// ActivityEvent is published after every non-empty fetch.
type ActivityEvent struct {
	event.Base
	SessionID string
}

// OutputEvent carries the decoded text of a non-empty fetch.
type OutputEvent struct {
	event.Base
	SessionID string
	Text      string
}

// ErrorEvent is published once when a session hits the consecutive error
// ceiling. Polling for the session has already stopped.
type ErrorEvent struct {
	event.Base
	SessionID string
	Message   string
}

// OnActivity registers cb for activity timestamps.
func (p *Poller) OnActivity(cb func(sessionID string, at time.Time)) (unsubscribe func()) {
	return p.bus.SubscribeFunc(EventActivity, event.Typed(func(e ActivityEvent) {
		cb(e.SessionID, e.At)
	}))
}

// OnOutput registers cb for decoded output.
func (p *Poller) OnOutput(cb func(sessionID, text string)) (unsubscribe func()) {
	return p.bus.SubscribeFunc(EventOutput, event.Typed(func(e OutputEvent) {
		cb(e.SessionID, e.Text)
	}))
}

// OnError registers cb for sessions abandoned after repeated fetch failures.
// The caller decides whether to recreate the session.
func (p *Poller) OnError(cb func(sessionID, message string)) (unsubscribe func()) {
	return p.bus.SubscribeFunc(EventError, event.Typed(func(e ErrorEvent) {
		cb(e.SessionID, e.Message)
	}))
}
