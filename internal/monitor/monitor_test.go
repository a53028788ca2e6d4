package monitor

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"

	"github.com/outpostdb/outpost/internal/executor"
	"github.com/outpostdb/outpost/internal/record"
)

// fakeBackend is a backend that always succeeds unless told otherwise.
type fakeBackend struct {
	calls    int
	affected int64
	err      error
}

func (f *fakeBackend) Run(ctx context.Context, query string, params []any) (executor.Result, error) {
	f.calls++
	if f.err != nil {
		return executor.Result{Message: f.err.Error()}, f.err
	}
	return executor.Result{OK: true, Affected: f.affected}, nil
}

func testConfig() *Config {
	return &Config{
		MaxBytes:          500,
		WarningThreshold:  0.1,
		CriticalThreshold: 0.95,
		Logger:            log.New(os.Stderr, "[test] ", 0),
	}
}

func TestWarningFiresOncePerBand(t *testing.T) {
	warnings := 0
	cfg := testConfig()
	cfg.OnWarning = func(record.MemoryStats) { warnings++ }

	m := New(&fakeBackend{}, cfg)

	// ~100 bytes: ratio 0.2, into warning.
	m.TrackBytes(100)
	if warnings != 1 {
		t.Fatalf("expected one warning after first write, got %d", warnings)
	}
	if got := m.Stats().Status; got != string(StateWarning) {
		t.Fatalf("status = %q, want warning", got)
	}

	// Second ~100 bytes: ratio 0.4, still warning, no re-fire.
	m.TrackBytes(100)
	if warnings != 1 {
		t.Errorf("warning re-fired while staying in band: %d", warnings)
	}
}

func TestCriticalEdgeTrigger(t *testing.T) {
	var transitions []string
	cfg := testConfig()
	cfg.OnWarning = func(record.MemoryStats) { transitions = append(transitions, "warning") }
	cfg.OnCritical = func(record.MemoryStats) { transitions = append(transitions, "critical") }

	m := New(&fakeBackend{}, cfg)
	m.TrackBytes(100) // warning
	m.TrackBytes(400) // ratio 1.0, critical
	m.TrackBytes(50)  // still critical

	want := []string{"warning", "critical"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestOverflowIsLevelTriggered(t *testing.T) {
	overflows := 0
	cfg := testConfig()
	cfg.OnOverflow = func(record.MemoryStats) { overflows++ }

	m := New(&fakeBackend{}, cfg)
	m.TrackBytes(400)
	if overflows != 0 {
		t.Fatalf("overflow fired below the limit")
	}

	m.TrackBytes(200) // 600 > 500
	m.TrackBytes(10)
	m.TrackBytes(10)
	if overflows != 3 {
		t.Errorf("overflow fired %d times, want once per write past the limit (3)", overflows)
	}
}

func TestClassificationBands(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 1000
	cfg.WarningThreshold = 0.5
	cfg.CriticalThreshold = 0.8
	m := New(&fakeBackend{}, cfg)

	steps := []struct {
		add  uint64
		want State
	}{
		{100, StateOK},       // 0.1
		{300, StateOK},       // 0.4
		{100, StateWarning},  // 0.5 boundary is warning
		{200, StateWarning},  // 0.7
		{100, StateCritical}, // 0.8 boundary is critical
		{900, StateCritical}, // clamped at 1.0
	}
	for _, step := range steps {
		m.TrackBytes(step.add)
		if got := m.Stats().Status; got != string(step.want) {
			t.Fatalf("after +%d bytes status = %q, want %q", step.add, got, step.want)
		}
	}

	if pct := m.Stats().UsagePercent; pct != 100 {
		t.Errorf("usage percent = %v, want clamp at 100", pct)
	}
}

func TestRunTracksOnlyMutations(t *testing.T) {
	backend := &fakeBackend{}
	m := New(backend, testConfig())
	ctx := context.Background()

	if _, err := m.Run(ctx, "SELECT * FROM notes", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Stats().BytesWritten; got != 0 {
		t.Errorf("read tracked %d bytes, want 0", got)
	}

	if _, err := m.Run(ctx, "INSERT INTO notes VALUES (?)", []any{"hello"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stats := m.Stats()
	if stats.BytesWritten == 0 {
		t.Error("mutation tracked no bytes")
	}
	if stats.RowCount != 1 {
		t.Errorf("row count = %d, want default 1", stats.RowCount)
	}
}

func TestRunCountsAffectedRows(t *testing.T) {
	backend := &fakeBackend{affected: 5}
	m := New(backend, testConfig())

	if _, err := m.Run(context.Background(), "UPDATE notes SET x = 1", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Stats().RowCount; got != 5 {
		t.Errorf("row count = %d, want 5", got)
	}
}

func TestRunPropagatesBackendErrors(t *testing.T) {
	backendErr := errors.New("engine exploded")
	backend := &fakeBackend{err: backendErr}
	m := New(backend, testConfig())

	_, err := m.Run(context.Background(), "INSERT INTO notes VALUES (1)", nil)
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if got := m.Stats().BytesWritten; got != 0 {
		t.Errorf("failed call tracked %d bytes, want 0", got)
	}
}

func TestResetRestartsClassification(t *testing.T) {
	warnings := 0
	cfg := testConfig()
	cfg.OnWarning = func(record.MemoryStats) { warnings++ }

	m := New(&fakeBackend{}, cfg)
	m.TrackBytes(100)
	if warnings != 1 {
		t.Fatalf("setup: expected one warning")
	}

	m.Reset()
	stats := m.Stats()
	if stats.BytesWritten != 0 || stats.RowCount != 0 {
		t.Errorf("reset left counters at %d bytes / %d rows", stats.BytesWritten, stats.RowCount)
	}
	if stats.Status != string(StateOK) {
		t.Errorf("reset left status %q, want ok", stats.Status)
	}

	// Crossing the threshold again fires the edge callback again.
	m.TrackBytes(100)
	if warnings != 2 {
		t.Errorf("warning after reset fired %d times total, want 2", warnings)
	}
}

func TestStatsIsASnapshot(t *testing.T) {
	m := New(&fakeBackend{}, testConfig())
	m.TrackBytes(50)

	first := m.Stats()
	m.TrackBytes(50)
	if first.BytesWritten != 50 {
		t.Error("earlier snapshot changed after later write")
	}
}
