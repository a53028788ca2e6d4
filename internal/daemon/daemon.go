// Package daemon provides the auto-sync loop that keeps a replica converging
// without the application driving every cycle.
//
// Three triggers invoke a sync:
//  1. A periodic ticker.
//  2. TriggerSync, the programmatic "user walked away" signal.
//  3. A trigger file: touching <dir>/.outpost-sync requests a cycle, so
//     external processes can nudge the daemon without an RPC surface.
//
// Shutdown performs a best-effort flush of still-queued records. A full
// push/pull round trip cannot be guaranteed to finish during teardown, so
// the flush is fire-and-forget by design.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	syncmgr "github.com/outpostdb/outpost/internal/sync"
)

// TriggerFileName is the file whose creation or modification requests an
// immediate sync cycle.
const TriggerFileName = ".outpost-sync"

// Syncer is the slice of the sync manager the daemon drives.
type Syncer interface {
	Sync(ctx context.Context, table string, fields []string) (syncmgr.Result, error)
	Flush(ctx context.Context)
}

// Config holds daemon configuration.
type Config struct {
	// Table and Fields select what each cycle syncs.
	Table  string
	Fields []string

	// Interval between periodic cycles. Zero means 30 seconds.
	Interval time.Duration

	// TriggerDir, when set, is watched for the trigger file.
	TriggerDir string

	// FlushTimeout bounds the shutdown flush. Zero means 5 seconds.
	FlushTimeout time.Duration

	// LogFile, when set, routes daemon logs to a rotated file instead of
	// stderr.
	LogFile string

	// Logger overrides LogFile and the stderr default.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:     30 * time.Second,
		FlushTimeout: 5 * time.Second,
	}
}

// Daemon runs the auto-sync loop for one manager.
type Daemon struct {
	syncer  Syncer
	config  *Config
	logger  *log.Logger
	trigger chan struct{}

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. The table must be set; everything else has
// defaults.
func New(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Table == "" {
		return nil, fmt.Errorf("table cannot be empty")
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 5 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		if config.LogFile != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   config.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}, "[autosync] ", log.LstdFlags)
		} else {
			logger = log.New(os.Stderr, "[autosync] ", log.LstdFlags)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:  syncer,
		config:  config,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the loop and blocks until ctx is cancelled or Stop is
// called. The shutdown flush runs before Start returns.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Printf("Auto-sync starting (table=%s, interval=%s)", d.config.Table, d.config.Interval)

	if d.config.TriggerDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create trigger watcher: %w", err)
		}
		if err := watcher.Add(d.config.TriggerDir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch trigger directory: %w", err)
		}
		d.watcher = watcher
		d.wg.Add(1)
		go d.watchTriggerFile()
	}

	d.wg.Add(1)
	go d.run()

	select {
	case <-ctx.Done():
	case <-d.ctx.Done():
	}
	return d.Stop()
}

// Stop shuts the loop down and flushes still-queued records best-effort.
// Safe to call more than once.
func (d *Daemon) Stop() error {
	d.cancel()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), d.config.FlushTimeout)
	defer cancel()
	d.syncer.Flush(ctx)

	d.logger.Println("Auto-sync stopped")
	return nil
}

// TriggerSync requests an immediate cycle. Coalesced: triggering while a
// request is already pending is a no-op.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

func (d *Daemon) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runCycle("interval")
		case <-d.trigger:
			d.runCycle("trigger")
		}
	}
}

func (d *Daemon) runCycle(reason string) {
	result, err := d.syncer.Sync(d.ctx, d.config.Table, d.config.Fields)
	if err != nil {
		d.logger.Printf("Sync failed (%s): %v", reason, err)
		return
	}
	if result.Skipped {
		d.logger.Printf("Sync skipped (%s): cycle already in flight", reason)
		return
	}
	d.logger.Printf("Sync complete (%s): pushed=%d pulled=%d", reason, result.Pushed, result.Pulled)
}

// watchTriggerFile converts trigger-file events into cycle requests.
func (d *Daemon) watchTriggerFile() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Base(event.Name) != TriggerFileName {
				continue
			}
			d.logger.Printf("Trigger file touched: %s", event.Name)
			d.TriggerSync()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Trigger watcher error: %v", err)
		}
	}
}
