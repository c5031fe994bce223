package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/fleetwatch/internal/clock"
)

func openTemp(t *testing.T, clk clock.Clock) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", DefaultFileName), clk)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_AppendAndRecent(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := clock.NewFake(start)
	s := openTemp(t, clk)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.AppendOutput(ctx, "w1", text); err != nil {
			t.Fatalf("AppendOutput(%q): %v", text, err)
		}
		clk.Advance(time.Second)
	}
	if err := s.AppendOutput(ctx, "w2", "other"); err != nil {
		t.Fatalf("AppendOutput(w2): %v", err)
	}

	got, err := s.Recent(ctx, "w1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("Recent(w1, 2) = %+v, want [two three]", got)
	}
	if !got[0].RecordedAt.Equal(start.Add(time.Second)) {
		t.Errorf("RecordedAt = %v, want %v", got[0].RecordedAt, start.Add(time.Second))
	}
}

func TestSQLite_Prune(t *testing.T) {
	s := openTemp(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendOutput(ctx, "w1", "x"); err != nil {
			t.Fatalf("AppendOutput: %v", err)
		}
	}

	removed, err := s.Prune(ctx, "w1", 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("Prune removed %d, want 3", removed)
	}
	got, _ := s.Recent(ctx, "w1", 10)
	if len(got) != 2 {
		t.Errorf("len(Recent) after prune = %d, want 2", len(got))
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	ctx := context.Background()

	s, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.AppendOutput(ctx, "w1", "persisted"); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, _ := s.Recent(ctx, "w1", 1)
	if len(got) != 1 || got[0].Text != "persisted" {
		t.Errorf("Recent after reopen = %+v", got)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "", nil); err == nil {
		t.Error("Open(\"\") succeeded, want error")
	}
}
