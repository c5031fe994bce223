package stuck

import "time"

// Role identifies a session's expected work pattern.
type Role string

// Built-in roles with threshold overrides.
const (
	RoleBuilder  Role = "builder"
	RoleReviewer Role = "reviewer"
	RoleTester   Role = "tester"
)

// Thresholds are the limits one session is judged against.
type Thresholds struct {
	// MaxNoOutput is the longest a session may go without activity.
	MaxNoOutput time.Duration

	// MaxNeedsInput is the longest a session may sit waiting for input.
	MaxNeedsInput time.Duration

	// PatternRepeatThreshold is how many times one output chunk must recur
	// in the rolling window to count as a loop.
	PatternRepeatThreshold int

	// PatternWindow is the length of one output chunk.
	PatternWindow time.Duration

	// NoProgressTimeout is how long after a prompt is sent the session may
	// go without a progress marker.
	NoProgressTimeout time.Duration
}

// DefaultThresholds returns the global defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxNoOutput:            15 * time.Minute,
		MaxNeedsInput:          10 * time.Minute,
		PatternRepeatThreshold: 3,
		PatternWindow:          30 * time.Second,
		NoProgressTimeout:      10 * time.Minute,
	}
}

// ThresholdOverrides replaces the fields that are set; nil fields keep the
// default.
type ThresholdOverrides struct {
	MaxNoOutput            *time.Duration
	MaxNeedsInput          *time.Duration
	PatternRepeatThreshold *int
	PatternWindow          *time.Duration
	NoProgressTimeout      *time.Duration
}

func (o ThresholdOverrides) applyTo(t Thresholds) Thresholds {
	if o.MaxNoOutput != nil {
		t.MaxNoOutput = *o.MaxNoOutput
	}
	if o.MaxNeedsInput != nil {
		t.MaxNeedsInput = *o.MaxNeedsInput
	}
	if o.PatternRepeatThreshold != nil {
		t.PatternRepeatThreshold = *o.PatternRepeatThreshold
	}
	if o.PatternWindow != nil {
		t.PatternWindow = *o.PatternWindow
	}
	if o.NoProgressTimeout != nil {
		t.NoProgressTimeout = *o.NoProgressTimeout
	}
	return t
}

// ThresholdTable is the default thresholds plus per-role overrides. A table
// is never mutated after it is handed to a Detector; replace it wholesale.
type ThresholdTable struct {
	Default Thresholds
	Roles   map[Role]ThresholdOverrides
}

// Resolve merges the role's overrides onto the default. Unknown and empty
// roles get the default.
func (t ThresholdTable) Resolve(role Role) Thresholds {
	if o, ok := t.Roles[role]; ok {
		return o.applyTo(t.Default)
	}
	return t.Default
}

// DefaultThresholdTable returns the defaults with the built-in role
// overrides.
func DefaultThresholdTable() ThresholdTable {
	return ThresholdTable{
		Default: DefaultThresholds(),
		Roles: map[Role]ThresholdOverrides{
			RoleBuilder: {
				MaxNoOutput:       Duration(30 * time.Minute),
				NoProgressTimeout: Duration(20 * time.Minute),
			},
			RoleReviewer: {
				MaxNoOutput: Duration(10 * time.Minute),
			},
			RoleTester: {
				MaxNoOutput:            Duration(20 * time.Minute),
				PatternRepeatThreshold: Int(4),
			},
		},
	}
}

// Duration returns a pointer to d, for building overrides.
func Duration(d time.Duration) *time.Duration {
	return &d
}

// Int returns a pointer to n, for building overrides.
func Int(n int) *int {
	return &n
}
