// Package monitor bounds the approximate memory consumption of an embedded,
// memory-resident query engine.
//
// A Monitor wraps a query executor, accumulates the estimated byte cost of
// every mutating call, and classifies accumulated usage into an
// ok/warning/critical band. Band transitions are edge-triggered
// notifications; breaching the hard byte limit is level-triggered and fires
// on every tracked write until the caller remediates.
package monitor

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/outpostdb/outpost/internal/estimate"
	"github.com/outpostdb/outpost/internal/executor"
	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/record"
)

// State is the memory-pressure band, ordered by severity.
type State string

const (
	StateOK       State = "ok"
	StateWarning  State = "warning"
	StateCritical State = "critical"
)

// Config holds monitor configuration.
//
// Callbacks run synchronously inside the tracked call and must not panic;
// a panicking callback aborts the call that triggered it.
type Config struct {
	// MaxBytes is the in-memory byte budget. Usage ratio is computed
	// against it and OnOverflow fires once accumulated bytes exceed it.
	MaxBytes uint64

	// WarningThreshold and CriticalThreshold are usage-ratio cutoffs in
	// [0,1] with WarningThreshold <= CriticalThreshold.
	WarningThreshold  float64
	CriticalThreshold float64

	// EstimateMultiplier scales serialized sizes to approximate storage
	// overhead. Zero means estimate.DefaultMultiplier.
	EstimateMultiplier float64

	// OnWarning and OnCritical are edge-triggered: they fire only when the
	// classified state differs from the previously recorded one.
	OnWarning  func(record.MemoryStats)
	OnCritical func(record.MemoryStats)

	// OnOverflow is level-triggered: it fires on every tracked write while
	// accumulated bytes exceed MaxBytes.
	OnOverflow func(record.MemoryStats)

	// Metrics receives write/overflow/transition observations. May be nil.
	Metrics *metrics.Metrics

	// Logger for monitor activity. Nil means a stderr default.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults: a 50 MB budget with warning at
// 70% and critical at 90%.
func DefaultConfig() *Config {
	return &Config{
		MaxBytes:          50 * 1024 * 1024,
		WarningThreshold:  0.7,
		CriticalThreshold: 0.9,
		Logger:            log.New(os.Stderr, "[monitor] ", log.LstdFlags),
	}
}

// Monitor tracks accumulated write volume for one backend.
//
// All exported methods are safe for concurrent use. Snapshots returned by
// Stats are freshly constructed values; callers never hold a reference into
// live monitor state.
type Monitor struct {
	backend executor.Executor
	config  *Config

	mu       sync.Mutex
	state    record.MemoryState
	lastBand State
}

// New wraps backend with a monitor. A nil config uses DefaultConfig.
func New(backend executor.Executor, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	return &Monitor{
		backend:  backend,
		config:   config,
		state:    record.MemoryState{CreatedAt: time.Now()},
		lastBand: StateOK,
	}
}

// Run passes the call through to the wrapped backend. If the statement
// mutates the store, the estimated cost of query and params is added to the
// running total and thresholds are re-evaluated.
//
// Backend errors propagate unchanged; failed calls are not tracked.
func (m *Monitor) Run(ctx context.Context, query string, params []any) (executor.Result, error) {
	result, err := m.backend.Run(ctx, query, params)
	if err != nil {
		return result, err
	}

	if executor.IsMutating(query) {
		delta := estimate.Size(query, m.config.EstimateMultiplier) +
			estimate.Size(params, m.config.EstimateMultiplier)
		rows := uint64(1)
		if result.Affected > 1 {
			rows = uint64(result.Affected)
		}
		m.track(delta, rows)
	}
	return result, nil
}

// TrackBytes adds n bytes to the running total without executing a query,
// then re-evaluates thresholds. Useful when writes bypass Run.
func (m *Monitor) TrackBytes(n uint64) {
	m.track(n, 0)
}

// track accumulates and classifies. Callbacks fire outside the lock so a
// hook may call Stats or Reset without deadlocking.
func (m *Monitor) track(delta, rows uint64) {
	m.mu.Lock()

	m.state = record.MemoryState{
		BytesWritten: m.state.BytesWritten + delta,
		RowCount:     m.state.RowCount + rows,
		CreatedAt:    m.state.CreatedAt,
	}

	ratio := m.usageRatioLocked()
	band := m.classifyLocked(ratio)
	transitioned := band != m.lastBand
	m.lastBand = band
	overflowed := m.config.MaxBytes > 0 && m.state.BytesWritten > m.config.MaxBytes
	stats := m.statsLocked()

	m.mu.Unlock()

	m.config.Metrics.ObserveWrite(delta, ratio)

	if transitioned {
		m.config.Metrics.ObserveStateChange(string(band))
		switch band {
		case StateWarning:
			m.config.Logger.Printf("Memory usage entered warning band (%.0f%%)", ratio*100)
			if m.config.OnWarning != nil {
				m.config.OnWarning(stats)
			}
		case StateCritical:
			m.config.Logger.Printf("Memory usage entered critical band (%.0f%%)", ratio*100)
			if m.config.OnCritical != nil {
				m.config.OnCritical(stats)
			}
		}
	}

	if overflowed {
		m.config.Metrics.ObserveOverflow()
		if m.config.OnOverflow != nil {
			m.config.OnOverflow(stats)
		}
	}
}

// usageRatioLocked computes bytesWritten/maxBytes clamped to [0,1].
func (m *Monitor) usageRatioLocked() float64 {
	if m.config.MaxBytes == 0 {
		return 0
	}
	ratio := float64(m.state.BytesWritten) / float64(m.config.MaxBytes)
	if ratio > 1 {
		return 1
	}
	return ratio
}

func (m *Monitor) classifyLocked(ratio float64) State {
	switch {
	case ratio >= m.config.CriticalThreshold:
		return StateCritical
	case ratio >= m.config.WarningThreshold:
		return StateWarning
	default:
		return StateOK
	}
}

// Stats returns an immutable snapshot of the current state.
func (m *Monitor) Stats() record.MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Monitor) statsLocked() record.MemoryStats {
	return record.MemoryStats{
		BytesWritten: m.state.BytesWritten,
		RowCount:     m.state.RowCount,
		MaxBytes:     m.config.MaxBytes,
		UsagePercent: m.usageRatioLocked() * 100,
		Status:       string(m.lastBand),
		Uptime:       time.Since(m.state.CreatedAt),
	}
}

// Reset zeroes the counters and the last-observed band, starting a new
// tracking epoch. Classification restarts at ok and the next threshold
// crossing fires its edge callback again.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.state = record.MemoryState{CreatedAt: time.Now()}
	m.lastBand = StateOK
	m.mu.Unlock()
	m.config.Metrics.ObserveReset()
}
