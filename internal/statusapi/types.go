package statusapi

import (
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/health"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

// Durations are reported in whole milliseconds.

type sessionHealthJSON struct {
	HasSession          bool  `json:"has_session"`
	Probed              bool  `json:"probed"`
	IsStale             bool  `json:"is_stale"`
	HasActivity         bool  `json:"has_activity"`
	TimeSinceActivityMs int64 `json:"time_since_activity_ms"`
	PollerErrors        int   `json:"poller_errors"`
}

type daemonJSON struct {
	Connected           bool       `json:"connected"`
	LastPing            *time.Time `json:"last_ping,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

type snapshotResponse struct {
	CheckedAt *time.Time                   `json:"checked_at,omitempty"`
	Daemon    daemonJSON                   `json:"daemon"`
	Sessions  map[string]sessionHealthJSON `json:"sessions"`
}

type signalsJSON struct {
	NoOutputMs            int64  `json:"no_output_ms"`
	NeedsInputMs          int64  `json:"needs_input_ms"`
	RepeatedPatterns      bool   `json:"repeated_patterns"`
	PromptWithoutProgress bool   `json:"prompt_without_progress"`
	TerminalStatus        string `json:"terminal_status"`
}

type analysisJSON struct {
	SessionID             string      `json:"session_id"`
	Role                  string      `json:"role,omitempty"`
	IsStuck               bool        `json:"is_stuck"`
	Confidence            string      `json:"confidence"`
	RecommendedAction     string      `json:"recommended_action"`
	Reasons               []string    `json:"reasons"`
	Signals               signalsJSON `json:"signals"`
	ConsecutiveDetections int         `json:"consecutive_detections"`
	AnalyzedAt            time.Time   `json:"analyzed_at"`
}

type sessionJSON struct {
	ID      string `json:"id"`
	Role    string `json:"role,omitempty"`
	Status  string `json:"status"`
	Missing bool   `json:"missing"`
	Polling bool   `json:"polling"`
}

type historyJSON struct {
	RecordedAt time.Time `json:"recorded_at"`
	Text       string    `json:"text"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func snapshotJSON(s health.Snapshot) snapshotResponse {
	out := snapshotResponse{
		CheckedAt: optionalTime(s.CheckedAt),
		Daemon: daemonJSON{
			Connected:           s.Daemon.Connected,
			LastPing:            optionalTime(s.Daemon.LastPing),
			ConsecutiveFailures: s.Daemon.ConsecutiveFailures,
		},
		Sessions: make(map[string]sessionHealthJSON, len(s.Sessions)),
	}
	for id, h := range s.Sessions {
		out.Sessions[id] = sessionHealthJSON{
			HasSession:          h.HasSession,
			Probed:              h.Probed,
			IsStale:             h.IsStale,
			HasActivity:         h.HasActivity,
			TimeSinceActivityMs: h.TimeSinceActivity.Milliseconds(),
			PollerErrors:        h.PollerErrors,
		}
	}
	return out
}

func toAnalysisJSON(a stuck.Analysis) analysisJSON {
	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return analysisJSON{
		SessionID:         a.SessionID,
		Role:              string(a.Role),
		IsStuck:           a.IsStuck,
		Confidence:        string(a.Confidence),
		RecommendedAction: string(a.RecommendedAction),
		Reasons:           reasons,
		Signals: signalsJSON{
			NoOutputMs:            a.Signals.NoOutputDuration.Milliseconds(),
			NeedsInputMs:          a.Signals.NeedsInputDuration.Milliseconds(),
			RepeatedPatterns:      a.Signals.RepeatedPatterns,
			PromptWithoutProgress: a.Signals.PromptWithoutProgress,
			TerminalStatus:        string(a.Signals.TerminalStatus),
		},
		ConsecutiveDetections: a.ConsecutiveDetections,
		AnalyzedAt:            a.AnalyzedAt,
	}
}
