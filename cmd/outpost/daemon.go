package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/daemon"
	"github.com/outpostdb/outpost/internal/dashboard"
	"github.com/outpostdb/outpost/internal/estimate"
	"github.com/outpostdb/outpost/internal/executor"
	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/monitor"
	"github.com/outpostdb/outpost/internal/record"
	"github.com/outpostdb/outpost/internal/resolve"
	syncmgr "github.com/outpostdb/outpost/internal/sync"
	"github.com/outpostdb/outpost/internal/ui"
)

var daemonDashboard bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the auto-sync daemon",
	Long: `Run the auto-sync loop in the foreground.

The daemon syncs on a periodic interval, and immediately whenever the
trigger file (.outpost-sync next to the replica database) is touched. On
shutdown it performs a best-effort flush of still-queued records.

With --dashboard, sync cycles and memory pressure are broadcast to
WebSocket clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		r, err := openReplica(ctx)
		if err != nil {
			return err
		}
		defer r.close()

		if _, err := r.requeueOfflineChanges(ctx); err != nil {
			return err
		}

		m := metrics.New()

		var board *dashboard.Server
		if daemonDashboard {
			board = dashboard.New(&dashboard.Config{Port: r.cfg.DashboardPort})
			if err := board.Start(); err != nil {
				return err
			}
			defer func() {
				if err := board.Stop(); err != nil {
					fmt.Printf("Warning: dashboard stop: %v\n", err)
				}
			}()
		}

		// Memory pressure from applied remote records counts against the
		// same budget as application writes.
		mon := monitor.New(r.store, &monitor.Config{
			MaxBytes:           r.cfg.MaxBytes,
			WarningThreshold:   r.cfg.WarningThreshold,
			CriticalThreshold:  r.cfg.CriticalThreshold,
			EstimateMultiplier: r.cfg.EstimateMultiplier,
			Metrics:            m,
			OnWarning: func(stats record.MemoryStats) {
				publishMemory(board, stats)
			},
			OnCritical: func(stats record.MemoryStats) {
				publishMemory(board, stats)
			},
			OnOverflow: func(stats record.MemoryStats) {
				if board != nil {
					board.Publish(dashboard.EventOverflow, dashboard.MemoryStateData{
						Status:       stats.Status,
						BytesWritten: stats.BytesWritten,
						UsagePercent: stats.UsagePercent,
					})
				}
			},
		})

		manager := syncmgr.New(
			&trackedStore{LocalStore: r.store, mon: mon, mult: r.cfg.EstimateMultiplier},
			r.client,
			&syncmgr.Config{
				ClientID:     r.cfg.ClientID,
				Strategy:     resolve.Strategy(r.cfg.Strategy),
				LastSyncTime: r.manager.LastSyncTime(),
				Metrics:      m,
				OnSyncStart: func() {
					if board != nil {
						board.Publish(dashboard.EventSyncStart, nil)
					}
				},
				OnSyncComplete: func(res syncmgr.Result) {
					if board != nil {
						board.Publish(dashboard.EventSyncComplete, dashboard.SyncCompleteData{
							Pushed: res.Pushed,
							Pulled: res.Pulled,
							At:     res.Timestamp,
						})
					}
				},
				OnSyncError: func(err error) {
					if board != nil {
						board.Publish(dashboard.EventSyncError, map[string]string{"error": err.Error()})
					}
				},
			})

		d, err := daemon.New(&persistingSyncer{manager: manager, replica: r}, &daemon.Config{
			Table:      r.cfg.Table,
			Fields:     r.cfg.Fields,
			Interval:   r.cfg.SyncInterval,
			TriggerDir: filepath.Dir(r.cfg.StorePath),
			LogFile:    r.cfg.LogFile,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Auto-sync running (interval %s), Ctrl-C to stop\n",
			ui.RenderAccent("●"), r.cfg.SyncInterval)
		return d.Start(ctx)
	},
}

func publishMemory(board *dashboard.Server, stats record.MemoryStats) {
	if board == nil {
		return
	}
	board.Publish(dashboard.EventMemoryState, dashboard.MemoryStateData{
		Status:       stats.Status,
		BytesWritten: stats.BytesWritten,
		UsagePercent: stats.UsagePercent,
	})
}

// trackedStore charges applied remote records against the memory budget.
type trackedStore struct {
	*executor.LocalStore
	mon  *monitor.Monitor
	mult float64
}

func (t *trackedStore) Apply(ctx context.Context, table string, fields []string, rec record.SyncRecord) error {
	if err := t.LocalStore.Apply(ctx, table, fields, rec); err != nil {
		return err
	}
	t.mon.TrackBytes(estimate.Size(rec, t.mult))
	return nil
}

// persistingSyncer persists the watermark after every successful cycle so a
// restarted daemon resumes where it left off.
type persistingSyncer struct {
	manager *syncmgr.Manager
	replica *replica
}

func (p *persistingSyncer) Sync(ctx context.Context, table string, fields []string) (syncmgr.Result, error) {
	result, err := p.manager.Sync(ctx, table, fields)
	if err != nil || result.Skipped {
		return result, err
	}
	if err := p.replica.store.SetWatermark(ctx, table, p.manager.LastSyncTime()); err != nil {
		return result, err
	}
	return result, nil
}

func (p *persistingSyncer) Flush(ctx context.Context) {
	p.manager.Flush(ctx)
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonDashboard, "dashboard", false,
		"broadcast sync and memory events over WebSocket")
	rootCmd.AddCommand(daemonCmd)
}
