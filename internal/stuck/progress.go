package stuck

import (
	"regexp"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/detect"
)

// progressLogSize is how many recent progress events are kept.
const progressLogSize = 10

// ProgressPatterns recognize a session doing meaningful work: tool call and
// result markers, or success phrasing. Tool names are not listed, so new
// tools match too.
var ProgressPatterns = []string{
	`<function_calls>`,
	`</invoke>`,
	`<function_results>`,
	`(?i)tool (?:use|result)`,
	`⏺`,
	`●\s+\w+\(`,
	`⎿`,
	`[✓✔]`,
	`(?i)\bdone\b`,
	`(?i)\bsuccessfully\b`,
	`(?i)\bcompleted?\b`,
	`(?i)\bpassed\b`,
	`(?i)wrote \d+ lines`,
	`(?i)(?:updated|created) (?:file|\S+\.\w+)`,
}

var progressMatchers = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(ProgressPatterns))
	for _, p := range ProgressPatterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}()

// ProgressEvent is one recognized progress marker.
type ProgressEvent struct {
	At     time.Time
	Marker string
}

// ProgressState tracks prompt dispatch against observed progress.
type ProgressState struct {
	LastPromptSent time.Time
	LastProgress   time.Time
	Recent         []ProgressEvent
}

func (p ProgressState) clone() ProgressState {
	p.Recent = append([]ProgressEvent(nil), p.Recent...)
	return p
}

// observe scans text for a progress marker and records the first match.
func (p *ProgressState) observe(text string, now time.Time) bool {
	marker := findProgressMarker(text)
	if marker == "" {
		return false
	}
	p.LastProgress = now
	p.Recent = append(p.Recent, ProgressEvent{At: now, Marker: marker})
	if len(p.Recent) > progressLogSize {
		p.Recent = p.Recent[len(p.Recent)-progressLogSize:]
	}
	return true
}

// promptWithoutProgress reports whether a prompt was sent, nothing counted
// as progress since, and timeout has elapsed. external is a dispatch time
// from the interval prompt manager, used when newer than the recorded one.
func (p *ProgressState) promptWithoutProgress(now time.Time, timeout time.Duration, external time.Time) bool {
	sent := p.LastPromptSent
	if external.After(sent) {
		sent = external
	}
	if sent.IsZero() {
		return false
	}
	if !p.LastProgress.IsZero() && !p.LastProgress.Before(sent) {
		return false
	}
	return now.Sub(sent) > timeout
}

func findProgressMarker(text string) string {
	clean := detect.StripANSI(text)
	for _, re := range progressMatchers {
		if m := re.FindString(clean); m != "" {
			return m
		}
	}
	return ""
}
