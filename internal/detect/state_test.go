package detect

import (
	"strings"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateOther, "other"},
		{StateBusy, "busy"},
		{StateIdle, "idle"},
		{StateWaitingForInput, "waiting_for_input"},
		{StateBypassPrompt, "bypass_prompt"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestState_NeedsInput(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateOther, false},
		{StateBusy, false},
		{StateIdle, false},
		{StateWaitingForInput, true},
		{StateBypassPrompt, true},
		{StateError, false},
	}

	for _, tc := range tests {
		if got := tc.state.NeedsInput(); got != tc.want {
			t.Errorf("%s.NeedsInput() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name   string
		screen string
		want   State
	}{
		{"empty", "", StateOther},
		{"plain output", "compiled 3 packages\nok", StateOther},
		{"spinner", "some output\n⠋ Thinking", StateBusy},
		{"esc to interrupt", "✻ Pondering… (12s · esc to interrupt)", StateBusy},
		{"reading", "Reading...", StateBusy},
		{
			"bypass dialog",
			"WARNING: Claude Code running in Bypass Permissions mode\n❯ 1. No, exit\n  2. Yes, I accept",
			StateBypassPrompt,
		},
		{"permission y/n", "Do you want to proceed? [Y/N]", StateWaitingForInput},
		{"numbered choice", "Edit file main.go\n❯ 1. Yes\n  2. No", StateWaitingForInput},
		{"question", "Which database should I use?", StateWaitingForInput},
		{"idle prompt", "Done.\n>\n? for shortcuts", StateIdle},
		{"bypass status bar is idle", "> \n⏵⏵ bypass permissions on (shift+tab to cycle)", StateIdle},
		{"cli error", "Error: connection refused by upstream", StateError},
		{"busy overrides question", "Should I proceed?\nRunning...", StateBusy},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify([]byte(tc.screen)); got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.screen, got, tc.want)
			}
		})
	}
}

func TestClassifier_ANSICodes(t *testing.T) {
	c := NewClassifier()

	screen := "\x1b[1mDo you want to proceed?\x1b[0m \x1b[32m[Y/N]\x1b[0m"
	if got := c.Classify([]byte(screen)); got != StateWaitingForInput {
		t.Errorf("Classify with ANSI = %v, want StateWaitingForInput", got)
	}
}

func TestClassifier_OnlyRecentLinesMatter(t *testing.T) {
	c := NewClassifier()

	var b strings.Builder
	b.WriteString("Do you want to proceed? [Y/N]\n")
	for i := 0; i < 30; i++ {
		b.WriteString("compiling module\n")
	}

	if got := c.Classify([]byte(b.String())); got != StateOther {
		t.Errorf("Classify with stale prompt = %v, want StateOther", got)
	}
}

func TestClassifier_EscapeHeavyTail(t *testing.T) {
	c := NewClassifier()

	var b strings.Builder
	b.WriteString("Do you want to proceed? [Y/N]\n")
	colored := strings.Repeat("\x1b[38;5;245m\x1b[0m", 50)
	for i := 0; i < 6; i++ {
		b.WriteString(colored + "  src/main.go\n")
	}

	if got := c.Classify([]byte(b.String())); got != StateWaitingForInput {
		t.Errorf("Classify with escape-heavy lines = %v, want StateWaitingForInput", got)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"line boundary", "first line\nsecond\nthird", 12, "third"},
		{"no newline", "abcdef", 3, "def"},
		{"inside a rune", "a…b", 3, "b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tail(tt.in, tt.n); got != tt.want {
				t.Errorf("tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b]0;title\x07body", "body"},
	}

	for _, tc := range tests {
		if got := StripANSI(tc.in); got != tc.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLastNonEmptyLines(t *testing.T) {
	lines := []string{"a", "", "  b  ", "", "c", ""}

	got := LastNonEmptyLines(lines, 2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("LastNonEmptyLines = %v, want [b c]", got)
	}

	got = LastNonEmptyLines(lines, 10)
	if len(got) != 3 || got[0] != "a" {
		t.Errorf("LastNonEmptyLines(10) = %v, want [a b c]", got)
	}
}
