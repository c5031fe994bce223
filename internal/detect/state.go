// Package detect classifies a coding agent's terminal screen into a coarse
// state (busy, idle, waiting for input, bypass prompt) using regex patterns
// over the most recent lines of output.
package detect

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// State is the classification of a terminal screen.
type State int

const (
	// StateOther means nothing recognizable matched.
	StateOther State = iota

	// StateBusy means the agent shows working indicators (spinners,
	// "Reading...", "let me check"). Busy overrides any prompt still
	// visible in the scrollback.
	StateBusy

	// StateIdle means the agent sits at its empty input prompt.
	StateIdle

	// StateWaitingForInput means the agent asked a question or requested
	// permission and cannot continue without an answer.
	StateWaitingForInput

	// StateBypassPrompt means the agent is stopped at the bypass-permissions
	// acceptance dialog shown on startup.
	StateBypassPrompt

	// StateError means the agent CLI itself reported a fatal error.
	StateError
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateOther:
		return "other"
	case StateBusy:
		return "busy"
	case StateIdle:
		return "idle"
	case StateWaitingForInput:
		return "waiting_for_input"
	case StateBypassPrompt:
		return "bypass_prompt"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// NeedsInput reports whether a human (or dispatcher) must respond.
func (s State) NeedsInput() bool {
	return s == StateWaitingForInput || s == StateBypassPrompt
}

// Pattern categories. Each groups regexes identifying one state.
var (
	// BypassPromptPatterns detect the bypass-permissions acceptance dialog.
	BypassPromptPatterns = []string{
		`(?i)running in bypass permissions mode`,
		`(?i)yes,\s*i accept`,
		`(?i)bypass permissions mode.*(?:accept|confirm)`,
	}

	// PermissionPatterns detect the agent asking for approval.
	PermissionPatterns = []string{
		`(?i)do you want (?:me )?to (?:proceed|continue|run|execute|apply|make|create|edit)`,
		`(?i)(?:shall|should|can|may) I (?:proceed|continue|go ahead|run|execute|apply)`,
		`(?i)(?:allow|permit|approve) (?:this|the) (?:action|change|operation|command)`,
		`(?i)\[Y(?:es)?/[Nn](?:o)?\]`,
		`(?i)\(y(?:es)?/n(?:o)?\)`,
		`(?i)press (?:y|enter) to (?:confirm|continue|proceed|approve)`,
		`(?i)waiting for (?:your )?(?:approval|confirmation|permission)`,
		`❯\s*\d+\.\s*(?:Yes|No)`,
	}

	// QuestionPatterns detect the agent asking for information.
	QuestionPatterns = []string{
		`\?\s*$`,
		`(?i)(?:what|which|how|where|when|who|why) (?:would you|do you|should I|is the)`,
		`(?i)(?:can|could|would) you (?:tell me|specify|clarify|explain|provide)`,
		`(?i)please (?:specify|clarify|provide|tell me|let me know)`,
		`(?i)(?:select|choose|pick) (?:one|an option|from)`,
		`(?i)waiting for (?:your )?(?:input|response|answer|reply)`,
	}

	// IdlePromptPatterns detect the agent's empty input prompt and status bar.
	IdlePromptPatterns = []string{
		`⏵⏵\s*(?:bypass|accept edits|auto-accept)`,
		`\?\s+for shortcuts`,
		`↵\s*send`,
		`\(shift\+tab to cycle\)`,
		`^>\s*$`,
	}

	// ErrorPatterns detect fatal agent CLI errors, not error text in tool output.
	ErrorPatterns = []string{
		`(?i)^Error: (?:session|connection|authentication|api) `,
		`(?i)(?:claude|codex|agent) (?:exited|terminated|crashed|died) (?:with|unexpectedly)`,
		`(?i)(?:rate limit|quota) (?:exceeded|reached)`,
	}

	// BusyPatterns detect the agent actively working.
	BusyPatterns = []string{
		`(?i)(?:reading|writing|editing|creating|modifying|analyzing|searching|running|executing|building|compiling|testing|thinking)\.{3}`,
		`(?i)esc to interrupt`,
		`(?i)(?:let me (?:check|look|see|analyze|examine|read|search|find)|i'?ll (?:check|look|start|begin))`,
		`⠋|⠙|⠹|⠸|⠼|⠴|⠦|⠧|⠇|⠏`,
		`[✻✽✢✳·∗]\s+\w+…`,
	}
)

// Classifier implements screen classification with pre-compiled patterns.
// It is stateless and safe for concurrent use.
type Classifier struct {
	bypass     []*regexp.Regexp
	permission []*regexp.Regexp
	question   []*regexp.Regexp
	idle       []*regexp.Regexp
	errors     []*regexp.Regexp
	busy       []*regexp.Regexp
}

// NewClassifier compiles the default pattern sets.
func NewClassifier() *Classifier {
	return &Classifier{
		bypass:     compilePatterns(BypassPromptPatterns),
		permission: compilePatterns(PermissionPatterns),
		question:   compilePatterns(QuestionPatterns),
		idle:       compilePatterns(IdlePromptPatterns),
		errors:     compilePatterns(ErrorPatterns),
		busy:       compilePatterns(BusyPatterns),
	}
}

// compilePatterns compiles pattern strings in multi-line mode.
// Invalid patterns are skipped.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile("(?m)" + p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Classify analyzes the tail of a screen capture.
//
// Priority (highest first): busy, bypass prompt, error, permission or
// question (waiting for input), idle prompt, other.
func (c *Classifier) Classify(screen []byte) State {
	if len(screen) == 0 {
		return StateOther
	}

	text := tail(StripANSI(string(screen)), 4000)

	recent := strings.Join(LastNonEmptyLines(strings.Split(text, "\n"), 12), "\n")

	switch {
	case matchesAny(recent, c.busy):
		return StateBusy
	case matchesAny(recent, c.bypass):
		return StateBypassPrompt
	case matchesAny(recent, c.errors):
		return StateError
	case matchesAny(recent, c.permission), matchesAny(recent, c.question):
		return StateWaitingForInput
	case matchesAny(recent, c.idle):
		return StateIdle
	default:
		return StateOther
	}
}

// tail returns at most the last n bytes of text, starting on a line
// boundary when one exists and never inside a rune.
func tail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	text = text[len(text)-n:]
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	for len(text) > 0 && !utf8.RuneStart(text[0]) {
		text = text[1:]
	}
	return text
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// LastNonEmptyLines returns the last n non-empty, trimmed lines.
func LastNonEmptyLines(lines []string, n int) []string {
	result := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(result) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			result = append(result, line)
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// StripANSI removes terminal escape sequences from text.
func StripANSI(text string) string {
	return ansi.Strip(text)
}
