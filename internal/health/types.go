package health

import (
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/event"
)

// DaemonFailureThreshold is the ping failure streak that marks the daemon
// disconnected.
const DaemonFailureThreshold = 3

// SessionHealth is one session's entry in a snapshot.
type SessionHealth struct {
	// HasSession is false once the gateway confirmed the session is gone.
	HasSession bool

	// Probed is true when existence was checked in this cycle. Busy and
	// stopped sessions are skipped, as are probes that failed in transport.
	Probed bool

	IsStale bool

	// HasActivity is false when no activity was ever recorded. Such a
	// session is always stale and TimeSinceActivity is zero.
	HasActivity       bool
	TimeSinceActivity time.Duration

	PollerErrors int
}

// DaemonHealth is the daemon liveness record.
type DaemonHealth struct {
	Connected           bool
	LastPing            time.Time
	ConsecutiveFailures int
}

// Snapshot is the result of one health check.
type Snapshot struct {
	Sessions  map[string]SessionHealth
	Daemon    DaemonHealth
	CheckedAt time.Time
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Sessions = make(map[string]SessionHealth, len(s.Sessions))
	for id, h := range s.Sessions {
		out.Sessions[id] = h
	}
	return out
}

// Event types published by the monitor.
const (
	EventHealthUpdated = "health.updated"
	EventDaemonStatus  = "health.daemon_status"
	EventSessionStatus = "health.session_status"
)

// HealthUpdatedEvent is published at the end of every health check.
type HealthUpdatedEvent struct {
	event.Base
	Snapshot Snapshot
}

// DaemonStatusEvent is published when the daemon flips between connected
// and disconnected.
type DaemonStatusEvent struct {
	event.Base
	Daemon DaemonHealth
}

// SessionStatusEvent is published when a session is confirmed missing or
// recovers.
type SessionStatusEvent struct {
	event.Base
	SessionID string
	Missing   bool
}
