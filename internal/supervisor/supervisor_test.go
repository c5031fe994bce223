package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
	"github.com/Iron-Ham/fleetwatch/internal/config"
	"github.com/Iron-Ham/fleetwatch/internal/display"
	"github.com/Iron-Ham/fleetwatch/internal/gateway"
	"github.com/Iron-Ham/fleetwatch/internal/gateway/gatewaytest"
	"github.com/Iron-Ham/fleetwatch/internal/registry"
	"github.com/Iron-Ham/fleetwatch/internal/stuck"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type historyStub struct {
	mu     sync.Mutex
	texts  map[string][]string
	pruned map[string]int
}

func (h *historyStub) AppendOutput(ctx context.Context, id, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.texts == nil {
		h.texts = make(map[string][]string)
	}
	h.texts[id] = append(h.texts[id], text)
	return nil
}

func (h *historyStub) Prune(ctx context.Context, id string, keep int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pruned == nil {
		h.pruned = make(map[string]int)
	}
	h.pruned[id] = keep
	return 0, nil
}

type fixture struct {
	clock   *clock.Fake
	gw      *gatewaytest.Fake
	reg     *registry.Memory
	buffers *display.Buffers
	history *historyStub
	sup     *Supervisor
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewFake(epoch),
		gw:      gatewaytest.New(),
		reg:     registry.NewMemory(),
		buffers: display.NewBuffers(0),
		history: &historyStub{},
	}
	f.sup = New(Options{
		Config:   cfg,
		Gateway:  f.gw,
		Registry: f.reg,
		Sink:     f.buffers,
		History:  f.history,
		Clock:    f.clock,
	})
	t.Cleanup(f.sup.Stop)
	return f
}

func TestSupervisor_TrackPollsAndRecordsActivity(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.Write("w1", "compiling\n")

	f.sup.Track(registry.Session{ID: "w1", Role: "builder"})
	f.clock.Advance(0)

	if got := f.buffers.Text("w1"); got != "compiling\n" {
		t.Errorf("display text = %q, want %q", got, "compiling\n")
	}
	at, ok := f.sup.Health().GetLastActivity("w1")
	if !ok || !at.Equal(epoch) {
		t.Errorf("GetLastActivity = %v, %v; want %v, true", at, ok, epoch)
	}
	if _, ok := f.sup.Stuck().GetTerminalStuckState("w1"); !ok {
		t.Error("detector saw no output for w1")
	}
	if len(f.history.texts["w1"]) != 1 {
		t.Errorf("history chunks = %d, want 1", len(f.history.texts["w1"]))
	}
}

func TestSupervisor_DetectorUsesPolledActivity(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.Write("w1", "start\n")
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.clock.Advance(0)

	f.clock.Advance(5 * time.Minute)
	f.gw.Write("w1", "still going\n")
	f.clock.Advance(11 * time.Second)

	a, err := f.sup.Stuck().AnalyzeTerminal(context.Background(), "w1")
	if err != nil {
		t.Fatalf("AnalyzeTerminal: %v", err)
	}
	if a.Signals.NoOutputDuration >= time.Minute {
		t.Errorf("NoOutputDuration = %v, want the fresh output to count", a.Signals.NoOutputDuration)
	}
}

func TestSupervisor_MissingSessionStopsAndResumesPolling(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.clock.Advance(0)

	f.gw.SetExists("w1", false)
	f.sup.Health().PerformHealthCheck(context.Background())

	if f.sup.Poller().IsPolling("w1") {
		t.Error("still polling a missing session")
	}
	if s, _ := f.reg.Get("w1"); !s.Missing {
		t.Error("registry not marked missing")
	}
	if !f.sup.IsMissing("w1") {
		t.Error("IsMissing = false for a confirmed missing session")
	}

	f.gw.SetExists("w1", true)
	f.sup.Health().PerformHealthCheck(context.Background())

	if !f.sup.Poller().IsPolling("w1") {
		t.Error("polling did not resume after recovery")
	}
	if f.sup.IsMissing("w1") {
		t.Error("IsMissing = true after recovery")
	}
}

func TestSupervisor_PollerGivesUpMarksError(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.SetFetchError("w1", errors.New("capture failed"))
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})

	f.clock.Advance(time.Second)

	if f.sup.Poller().IsPolling("w1") {
		t.Error("poller kept polling past the error ceiling")
	}
	if s, _ := f.reg.Get("w1"); s.Status != registry.StatusError {
		t.Errorf("registry status = %q, want %q", s.Status, registry.StatusError)
	}
}

func TestSupervisor_ClassificationSetsBusyStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.clock.Advance(0)
	ctx := context.Background()

	f.gw.SetTerminalState("w1", gateway.TerminalBusy)
	if _, err := f.sup.Stuck().AnalyzeTerminal(ctx, "w1"); err != nil {
		t.Fatalf("AnalyzeTerminal: %v", err)
	}
	if s, _ := f.reg.Get("w1"); s.Status != registry.StatusBusy {
		t.Fatalf("registry status = %q, want %q", s.Status, registry.StatusBusy)
	}

	// Busy sessions are not probed for existence.
	before := f.gw.ExistsCalls("w1")
	f.sup.Health().PerformHealthCheck(ctx)
	if n := f.gw.ExistsCalls("w1"); n != before {
		t.Errorf("exists calls = %d, want %d for a busy session", n, before)
	}

	f.gw.SetTerminalState("w1", gateway.TerminalWaitingForInput)
	if _, err := f.sup.Stuck().AnalyzeTerminal(ctx, "w1"); err != nil {
		t.Fatalf("AnalyzeTerminal: %v", err)
	}
	if s, _ := f.reg.Get("w1"); s.Status != registry.StatusIdle {
		t.Errorf("registry status = %q, want %q", s.Status, registry.StatusIdle)
	}

	// A classification never clears an error status.
	f.reg.UpdateStatus("w1", registry.StatusPatch{Status: registry.StatusPtr(registry.StatusError)})
	f.gw.SetTerminalState("w1", gateway.TerminalBusy)
	if _, err := f.sup.Stuck().AnalyzeTerminal(ctx, "w1"); err != nil {
		t.Fatalf("AnalyzeTerminal: %v", err)
	}
	if s, _ := f.reg.Get("w1"); s.Status != registry.StatusError {
		t.Errorf("registry status = %q, want %q to stick", s.Status, registry.StatusError)
	}
}

func TestSupervisor_Untrack(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.Write("w1", "hello\n")
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.clock.Advance(0)

	f.sup.Untrack("w1")

	if f.sup.Poller().IsPolling("w1") {
		t.Error("still polling after Untrack")
	}
	if _, ok := f.sup.Health().GetLastActivity("w1"); ok {
		t.Error("activity kept after Untrack")
	}
	if _, ok := f.sup.Stuck().GetTerminalStuckState("w1"); ok {
		t.Error("stuck state kept after Untrack")
	}
	if _, ok := f.reg.Get("w1"); ok {
		t.Error("registry still has w1")
	}
	if got := f.buffers.Text("w1"); got != "" {
		t.Errorf("display text = %q after Untrack", got)
	}
}

func TestSupervisor_UntrackWhileDelivering(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.Write("w1", "hello\n")
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})

	// Untrack lands between the activity and output events of one chunk.
	unsubscribe := f.sup.Poller().OnActivity(func(id string, _ time.Time) {
		f.sup.Untrack(id)
	})
	defer unsubscribe()
	f.clock.Advance(0)

	if _, ok := f.sup.Stuck().GetTerminalStuckState("w1"); ok {
		t.Error("late output recreated stuck state after Untrack")
	}
	if _, ok := f.sup.Health().GetLastActivity("w1"); ok {
		t.Error("activity kept after Untrack")
	}
	if f.sup.Poller().IsPolling("w1") {
		t.Error("still polling after Untrack")
	}
}

func TestSupervisor_HealthUpdatePrunesHistory(t *testing.T) {
	cfg := config.Default()
	cfg.History.KeepPerSession = 50
	f := newFixture(t, cfg)
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.clock.Advance(0)

	f.sup.Health().PerformHealthCheck(context.Background())

	if keep := f.history.pruned["w1"]; keep != 50 {
		t.Errorf("pruned keep = %d, want 50", keep)
	}
}

func TestSupervisor_ApplyConfig(t *testing.T) {
	f := newFixture(t, nil)

	cfg := config.Default()
	cfg.Stuck.Roles["builder"] = config.RoleOverrideConfig{MaxNoOutputMs: intPtr(45 * 60 * 1000)}
	cfg.Stuck.Roles["docs"] = config.RoleOverrideConfig{PatternRepeatThreshold: intPtr(5)}
	cfg.Health.StaleThresholdMs = 60000
	f.sup.ApplyConfig(cfg)

	if got := f.sup.Stuck().GetThresholdsForRole(stuck.RoleBuilder).MaxNoOutput; got != 45*time.Minute {
		t.Errorf("builder MaxNoOutput = %v, want 45m", got)
	}
	if got := f.sup.Stuck().GetThresholdsForRole("docs").PatternRepeatThreshold; got != 5 {
		t.Errorf("docs PatternRepeatThreshold = %d, want 5", got)
	}

	f.reg.Add(registry.Session{ID: "w1", Role: "worker"})
	f.sup.Health().RecordActivity("w1")
	f.clock.Advance(time.Minute)
	snap := f.sup.Health().PerformHealthCheck(context.Background())
	if !snap.Sessions["w1"].IsStale {
		t.Error("stale threshold from reloaded config not applied")
	}
}

func TestSupervisor_StopCancelsTimers(t *testing.T) {
	f := newFixture(t, nil)
	f.sup.Track(registry.Session{ID: "w1", Role: "worker"})
	f.sup.Start()
	f.clock.Advance(0)

	if !f.sup.Health().IsRunning() || !f.sup.Stuck().IsRunning() {
		t.Fatal("subsystems not running after Start")
	}

	f.sup.Stop()

	if f.clock.Pending() != 0 {
		t.Errorf("Pending timers after Stop = %d, want 0", f.clock.Pending())
	}
	if f.sup.Poller().GetPollerCount() != 0 {
		t.Errorf("GetPollerCount = %d after Stop", f.sup.Poller().GetPollerCount())
	}
	if n := f.sup.Bus().SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount after Stop = %d, want 0", n)
	}
}

func intPtr(n int) *int { return &n }
