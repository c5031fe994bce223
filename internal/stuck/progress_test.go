package stuck

import (
	"testing"
	"time"
)

func TestFindProgressMarker(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"⏺ Bash(go test ./...)", true},
		{"  ⎿  ok  github.com/x/y 0.2s", true},
		{"<function_calls><invoke name=\"Edit\">", true},
		{"Tool result: 3 files", true},
		{"All 42 tests passed", true},
		{"✓ lint", true},
		{"Successfully installed", true},
		{"Wrote 120 lines to main.go", true},
		{"Updated file internal/x.go", true},
		{"thinking about the problem", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := findProgressMarker(tc.text) != ""; got != tc.want {
			t.Errorf("findProgressMarker(%q) matched=%v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestProgressState_PromptWithoutProgress(t *testing.T) {
	timeout := 10 * time.Minute

	t.Run("no prompt", func(t *testing.T) {
		var p ProgressState
		if p.promptWithoutProgress(epoch.Add(time.Hour), timeout, time.Time{}) {
			t.Error("flagged without any prompt")
		}
	})

	t.Run("silent past timeout", func(t *testing.T) {
		p := ProgressState{LastPromptSent: epoch}
		if p.promptWithoutProgress(epoch.Add(timeout), timeout, time.Time{}) {
			t.Error("flagged at exactly the timeout")
		}
		if !p.promptWithoutProgress(epoch.Add(timeout+time.Second), timeout, time.Time{}) {
			t.Error("not flagged past the timeout")
		}
	})

	t.Run("progress after prompt", func(t *testing.T) {
		p := ProgressState{LastPromptSent: epoch}
		p.observe("✓ build", epoch.Add(timeout-time.Second))
		if p.promptWithoutProgress(epoch.Add(2*timeout), timeout, time.Time{}) {
			t.Error("flagged although progress followed the prompt")
		}
	})

	t.Run("progress before prompt", func(t *testing.T) {
		var p ProgressState
		p.observe("✓ build", epoch)
		p.LastPromptSent = epoch.Add(time.Minute)
		if !p.promptWithoutProgress(epoch.Add(time.Minute+timeout+time.Second), timeout, time.Time{}) {
			t.Error("old progress masked a newer prompt")
		}
	})

	t.Run("newer external prompt", func(t *testing.T) {
		p := ProgressState{LastPromptSent: epoch}
		p.observe("✓ build", epoch.Add(time.Minute))
		external := epoch.Add(2 * time.Minute)
		if !p.promptWithoutProgress(external.Add(timeout+time.Second), timeout, external) {
			t.Error("external prompt time ignored")
		}
	})
}

func TestProgressState_RecentIsBounded(t *testing.T) {
	var p ProgressState
	for i := 0; i < progressLogSize+5; i++ {
		p.observe("done", epoch.Add(time.Duration(i)*time.Second))
	}
	if len(p.Recent) != progressLogSize {
		t.Errorf("len(Recent) = %d, want %d", len(p.Recent), progressLogSize)
	}
	if !p.LastProgress.Equal(epoch.Add(time.Duration(progressLogSize+4) * time.Second)) {
		t.Errorf("LastProgress = %v", p.LastProgress)
	}
}
