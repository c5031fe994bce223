package stuck

import (
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/event"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
)

// Confidence is how certain the detector is that a session is stuck.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Action is the recommended remediation. The detector never acts on it.
type Action string

const (
	ActionNone     Action = "none"
	ActionNotify   Action = "notify"
	ActionRestart  Action = "restart"
	ActionEscalate Action = "escalate"
)

// Signals are the raw inputs of one analysis.
type Signals struct {
	NoOutputDuration      time.Duration
	NeedsInputDuration    time.Duration
	RepeatedPatterns      bool
	PromptWithoutProgress bool
	TerminalStatus        gateway.TerminalStatus
}

// Analysis is the verdict for one session.
type Analysis struct {
	SessionID             string
	Role                  Role
	IsStuck               bool
	Confidence            Confidence
	RecommendedAction     Action
	Reasons               []string
	Signals               Signals
	ConsecutiveDetections int
	AnalyzedAt            time.Time
}

// TerminalStuckState is the detector's per-session memory.
type TerminalStuckState struct {
	// FirstSeen stands in for last activity until the session reports any.
	FirstSeen time.Time

	// WaitingSince is set while the session needs input.
	WaitingSince *time.Time
	LastStatus   gateway.TerminalStatus

	// ConsecutiveStuck counts notifications fired since the session was
	// last judged not stuck.
	ConsecutiveStuck int
	LastNotified     time.Time

	Pattern  PatternState
	Progress ProgressState
}

func (s *TerminalStuckState) clone() TerminalStuckState {
	out := *s
	if s.WaitingSince != nil {
		w := *s.WaitingSince
		out.WaitingSince = &w
	}
	out.Pattern = s.Pattern.clone()
	out.Progress = s.Progress.clone()
	return out
}

// ActivitySource supplies last-activity timestamps (the health monitor).
type ActivitySource interface {
	GetLastActivity(sessionID string) (time.Time, bool)
}

// PromptStatus is what the interval prompt manager knows about a session.
type PromptStatus struct {
	LastPromptTime time.Time
}

// PromptStatusSource is the interval prompt manager.
type PromptStatusSource interface {
	GetStatus(sessionID string) (PromptStatus, bool)
}

const (
	// EventStuckDetected is published for every throttled stuck notification.
	EventStuckDetected = "stuck.detected"

	// EventTerminalState is published for every successful classification.
	EventTerminalState = "stuck.terminal_state"
)

// DetectedEvent carries the analysis that triggered a notification.
type DetectedEvent struct {
	event.Base
	Analysis Analysis
}

// TerminalStateEvent carries one classification of a session's screen.
type TerminalStateEvent struct {
	event.Base
	SessionID string
	State     gateway.TerminalState
}
