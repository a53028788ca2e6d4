package daemon

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	syncmgr "github.com/outpostdb/outpost/internal/sync"
)

type fakeSyncer struct {
	mu      sync.Mutex
	syncs   int
	flushes int
	synced  chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{synced: make(chan struct{}, 16)}
}

func (f *fakeSyncer) Sync(_ context.Context, _ string, _ []string) (syncmgr.Result, error) {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
	select {
	case f.synced <- struct{}{}:
	default:
	}
	return syncmgr.Result{Pushed: 1}, nil
}

func (f *fakeSyncer) Flush(_ context.Context) {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeSyncer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs, f.flushes
}

func testDaemon(t *testing.T, syncer Syncer, config *Config) *Daemon {
	t.Helper()
	if config.Table == "" {
		config.Table = "notes"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[test] ", 0)
	}
	d, err := New(syncer, config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func startDaemon(t *testing.T, d *Daemon) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return cancel
}

func waitForSync(t *testing.T, syncer *fakeSyncer) {
	t.Helper()
	select {
	case <-syncer.synced:
	case <-time.After(5 * time.Second):
		t.Fatal("no sync cycle ran")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, &Config{Table: "notes"}); err == nil {
		t.Error("expected error for nil syncer")
	}
	if _, err := New(newFakeSyncer(), &Config{}); err == nil {
		t.Error("expected error for empty table")
	}
}

func TestIntervalDrivesCycles(t *testing.T) {
	syncer := newFakeSyncer()
	d := testDaemon(t, syncer, &Config{Interval: 20 * time.Millisecond})
	startDaemon(t, d)

	waitForSync(t, syncer)
	waitForSync(t, syncer)
}

func TestTriggerSyncRunsImmediately(t *testing.T) {
	syncer := newFakeSyncer()
	d := testDaemon(t, syncer, &Config{Interval: time.Hour})
	startDaemon(t, d)

	d.TriggerSync()
	waitForSync(t, syncer)
}

func TestTriggerFileRequestsCycle(t *testing.T) {
	dir := t.TempDir()
	syncer := newFakeSyncer()
	d := testDaemon(t, syncer, &Config{Interval: time.Hour, TriggerDir: dir})
	startDaemon(t, d)

	if err := os.WriteFile(filepath.Join(dir, TriggerFileName), []byte("now"), 0o644); err != nil {
		t.Fatalf("failed to touch trigger file: %v", err)
	}
	waitForSync(t, syncer)
}

func TestUnrelatedFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	syncer := newFakeSyncer()
	d := testDaemon(t, syncer, &Config{Interval: time.Hour, TriggerDir: dir})
	startDaemon(t, d)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case <-syncer.synced:
		t.Error("unrelated file triggered a cycle")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopFlushes(t *testing.T) {
	syncer := newFakeSyncer()
	d := testDaemon(t, syncer, &Config{Interval: time.Hour})
	cancel := startDaemon(t, d)

	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, flushes := syncer.counts(); flushes >= 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("shutdown did not flush")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
