package stuck

import (
	"testing"
	"time"
)

func TestThresholdTable_Resolve(t *testing.T) {
	table := DefaultThresholdTable()
	def := DefaultThresholds()

	tests := []struct {
		role Role
		want Thresholds
	}{
		{"", def},
		{"unknown-role", def},
		{RoleBuilder, Thresholds{
			MaxNoOutput:            30 * time.Minute,
			MaxNeedsInput:          def.MaxNeedsInput,
			PatternRepeatThreshold: def.PatternRepeatThreshold,
			PatternWindow:          def.PatternWindow,
			NoProgressTimeout:      20 * time.Minute,
		}},
		{RoleTester, Thresholds{
			MaxNoOutput:            20 * time.Minute,
			MaxNeedsInput:          def.MaxNeedsInput,
			PatternRepeatThreshold: 4,
			PatternWindow:          def.PatternWindow,
			NoProgressTimeout:      def.NoProgressTimeout,
		}},
	}

	for _, tc := range tests {
		if got := table.Resolve(tc.role); got != tc.want {
			t.Errorf("Resolve(%q) = %+v, want %+v", tc.role, got, tc.want)
		}
	}
}

func TestThresholdTable_ResolveLeavesDefaultIntact(t *testing.T) {
	table := ThresholdTable{
		Default: DefaultThresholds(),
		Roles:   map[Role]ThresholdOverrides{"fast": {PatternWindow: Duration(5 * time.Second)}},
	}

	_ = table.Resolve("fast")
	if table.Default.PatternWindow != 30*time.Second {
		t.Errorf("Resolve mutated the default: %v", table.Default.PatternWindow)
	}
	if got := table.Resolve("fast").PatternWindow; got != 5*time.Second {
		t.Errorf("fast PatternWindow = %v, want 5s", got)
	}
}

func TestDefaultThresholds(t *testing.T) {
	d := DefaultThresholds()
	if d.MaxNoOutput != 15*time.Minute || d.MaxNeedsInput != 10*time.Minute ||
		d.PatternRepeatThreshold != 3 || d.PatternWindow != 30*time.Second ||
		d.NoProgressTimeout != 10*time.Minute {
		t.Errorf("DefaultThresholds() = %+v", d)
	}
}
