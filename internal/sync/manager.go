package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/record"
	"github.com/outpostdb/outpost/internal/resolve"
	"github.com/outpostdb/outpost/internal/transport"
)

// Store is the local replica the manager reads during conflict checks and
// writes resolved records into.
type Store interface {
	// Get fetches the local copy of a record, reporting whether one exists.
	Get(ctx context.Context, table, id string) (record.SyncRecord, bool, error)

	// Apply upserts a resolved record, optionally projected to fields.
	Apply(ctx context.Context, table string, fields []string, rec record.SyncRecord) error
}

// Remote is the authoritative store endpoint. *transport.Client satisfies it.
type Remote interface {
	Push(ctx context.Context, table string, push transport.PushRequest) ([]byte, error)
	Pull(ctx context.Context, table string, since int64, clientID string) (transport.PullResponse, error)
}

// Result reports one sync cycle.
type Result struct {
	Pushed    int   `json:"pushed"`
	Pulled    int   `json:"pulled"`
	Skipped   bool  `json:"skipped"`
	Timestamp int64 `json:"timestamp"`
}

// Config holds manager configuration.
//
// All hooks run synchronously inside the triggering call and must not panic;
// a panicking hook aborts that call.
type Config struct {
	// ClientID identifies this replica. Empty generates a fresh id.
	ClientID string

	// Strategy picks the conflict winner when the local copy is strictly
	// newer than a pulled record. Unknown names fall back to server-wins.
	Strategy resolve.Strategy

	// LastSyncTime seeds the pull watermark, letting callers restore a
	// persisted sync point across restarts.
	LastSyncTime int64

	// OnConflict, when set, is consulted before resolving a pulled record
	// whose local copy is strictly newer. Returning false skips the record
	// entirely: nothing is applied and the local copy stands.
	OnConflict func(local, remote record.SyncRecord) bool

	// Cycle lifecycle hooks.
	OnSyncStart    func()
	OnSyncComplete func(Result)
	OnSyncError    func(error)

	// Metrics receives push/pull/conflict observations. May be nil.
	Metrics *metrics.Metrics

	// Logger for sync activity. Nil means a stderr default.
	Logger *log.Logger

	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// pendingEntry is one queued local change awaiting push.
type pendingEntry struct {
	table string
	op    record.Operation
	rec   record.SyncRecord
}

// Manager buffers local changes and runs the push/pull protocol.
//
// All exported methods are safe for concurrent use. Status returns a fresh
// snapshot per call; callers never hold a reference into manager state.
type Manager struct {
	store  Store
	remote Remote
	config *Config

	mu       stdsync.Mutex
	queue    []pendingEntry
	lastSync int64
	syncing  bool
}

// New creates a manager for the given store and remote. A nil config uses
// defaults (generated client id, server-wins strategy).
func New(store Store, remote Remote, config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	if config.ClientID == "" {
		config.ClientID = record.NewClientID()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Strategy == "" {
		config.Strategy = resolve.StrategyServer
	} else if !resolve.Known(config.Strategy) {
		config.Logger.Printf("Unknown conflict strategy %q, falling back to %q",
			config.Strategy, resolve.StrategyServer)
		config.Strategy = resolve.StrategyServer
	}

	return &Manager{
		store:    store,
		remote:   remote,
		config:   config,
		lastSync: config.LastSyncTime,
	}
}

// ClientID returns this replica's identity.
func (m *Manager) ClientID() string { return m.config.ClientID }

// QueueChange buffers a new local mutation for delivery. The record is
// constructed now so UpdatedAt reflects the mutation time, and the payload
// is serialized immediately.
func (m *Manager) QueueChange(table string, op record.Operation, id string, payload any) (record.SyncRecord, error) {
	rec, err := record.New(id, payload, m.config.ClientID, m.config.Now())
	if err != nil {
		return record.SyncRecord{}, err
	}
	m.QueueRecord(table, op, rec)
	return rec, nil
}

// QueueRecord buffers an already-constructed record, preserving its
// UpdatedAt. Used when requeueing offline edits read back from the store.
func (m *Manager) QueueRecord(table string, op record.Operation, rec record.SyncRecord) {
	m.mu.Lock()
	m.queue = append(m.queue, pendingEntry{table: table, op: op, rec: rec})
	depth := len(m.queue)
	m.mu.Unlock()

	m.config.Metrics.SetPending(depth)
}

// Push sends the queued records for table to the remote store.
//
// The push operates on a snapshot of the queue taken at call start;
// concurrently queued entries are excluded and stay for the next push. On
// failure the queue is untouched (safe to retry, at-least-once). On success
// exactly the pushed entries are removed, keyed by SyncID rather than table
// membership so entries queued mid-flight survive.
func (m *Manager) Push(ctx context.Context, table string) (int, error) {
	m.mu.Lock()
	var items []record.SyncRecord
	pushed := make(map[string]bool)
	for _, e := range m.queue {
		if e.table == table {
			items = append(items, e.rec)
			pushed[e.rec.SyncID] = true
		}
	}
	m.mu.Unlock()

	if len(items) == 0 {
		return 0, nil
	}

	_, err := m.remote.Push(ctx, table, transport.PushRequest{
		ClientID: m.config.ClientID,
		Items:    items,
	})
	if err != nil {
		return 0, fmt.Errorf("push failed for %q: %w", table, err)
	}

	m.mu.Lock()
	remaining := m.queue[:0]
	for _, e := range m.queue {
		if !pushed[e.rec.SyncID] {
			remaining = append(remaining, e)
		}
	}
	m.queue = remaining
	depth := len(m.queue)
	m.mu.Unlock()

	m.config.Metrics.ObservePush(len(items))
	m.config.Metrics.SetPending(depth)
	return len(items), nil
}

// Pull fetches remote records for table updated since the watermark and
// applies them to the local store, resolving conflicts record-by-record.
//
// A remote record with no local copy is applied directly. When the local
// copy is strictly newer, the conflict hook (if any) may skip the record;
// otherwise the configured strategy decides and the winner is applied.
// Remote wins on tie or when remote is newer.
//
// The watermark advances to the server-reported time, or the local clock if
// the server omitted one. It advances even when the hook skipped records:
// skips are a caller decision, not a failure.
func (m *Manager) Pull(ctx context.Context, table string, fields []string) (int, error) {
	m.mu.Lock()
	since := m.lastSync
	m.mu.Unlock()

	pull, err := m.remote.Pull(ctx, table, since, m.config.ClientID)
	if err != nil {
		return 0, fmt.Errorf("pull failed for %q: %w", table, err)
	}

	applied := 0
	for _, remote := range pull.Items {
		local, exists, err := m.store.Get(ctx, table, remote.ID)
		if err != nil {
			return applied, fmt.Errorf("failed to read local copy of %q: %w", remote.ID, err)
		}

		winner := remote
		if exists && resolve.IsLocalNewer(local, remote) {
			m.config.Metrics.ObserveConflict()
			if m.config.OnConflict != nil && !m.config.OnConflict(local, remote) {
				m.config.Logger.Printf("Conflict hook skipped record %s/%s", table, remote.ID)
				continue
			}
			winner = resolve.Resolve(local, remote, m.config.Strategy)
		}

		if err := m.store.Apply(ctx, table, fields, winner); err != nil {
			return applied, fmt.Errorf("failed to apply record %q: %w", remote.ID, err)
		}
		applied++
	}

	watermark := pull.ServerTime
	if watermark == 0 {
		watermark = m.config.Now().Unix()
	}
	m.mu.Lock()
	m.lastSync = watermark
	m.mu.Unlock()

	m.config.Metrics.ObservePull(applied)
	return applied, nil
}

// Sync runs one push-then-pull cycle for table under the single-flight
// guard. A call arriving while another cycle is in flight returns a skipped
// result immediately; this is mutual exclusion, not scheduling.
//
// Transport errors are surfaced via OnSyncError and returned; the queue and
// watermark are left so the next attempt retries cleanly.
func (m *Manager) Sync(ctx context.Context, table string, fields []string) (Result, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		m.config.Metrics.ObserveSync("skipped")
		return Result{Skipped: true, Timestamp: m.config.Now().Unix()}, nil
	}
	m.syncing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	if m.config.OnSyncStart != nil {
		m.config.OnSyncStart()
	}

	pushed, err := m.Push(ctx, table)
	if err != nil {
		return Result{}, m.fail(err)
	}

	pulled, err := m.Pull(ctx, table, fields)
	if err != nil {
		return Result{}, m.fail(err)
	}

	result := Result{
		Pushed:    pushed,
		Pulled:    pulled,
		Timestamp: m.config.Now().Unix(),
	}
	m.config.Metrics.ObserveSync("ok")
	if m.config.OnSyncComplete != nil {
		m.config.OnSyncComplete(result)
	}
	return result, nil
}

func (m *Manager) fail(err error) error {
	m.config.Metrics.ObserveSync("error")
	if m.config.OnSyncError != nil {
		m.config.OnSyncError(err)
	}
	return err
}

// Flush performs a best-effort, fire-and-forget push of every still-queued
// table. It is the teardown path: a full push/pull round trip cannot be
// guaranteed to finish, so failures are logged and swallowed rather than
// retried.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	tables := make([]string, 0, 2)
	seen := make(map[string]bool)
	for _, e := range m.queue {
		if !seen[e.table] {
			seen[e.table] = true
			tables = append(tables, e.table)
		}
	}
	m.mu.Unlock()

	for _, table := range tables {
		if n, err := m.Push(ctx, table); err != nil {
			m.config.Logger.Printf("Flush push failed for %q: %v", table, err)
		} else if n > 0 {
			m.config.Logger.Printf("Flushed %d records for %q", n, table)
		}
	}
}

// LastSyncTime returns the current pull watermark, for persistence.
func (m *Manager) LastSyncTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Status returns a freshly constructed read-only projection of manager
// state. Never cached, never a live reference.
func (m *Manager) Status() record.SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return record.SyncStatus{
		ClientID:     m.config.ClientID,
		LastSyncTime: m.lastSync,
		PendingCount: len(m.queue),
		IsSyncing:    m.syncing,
	}
}
