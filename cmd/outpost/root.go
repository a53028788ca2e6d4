package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/config"
	"github.com/outpostdb/outpost/internal/executor"
	"github.com/outpostdb/outpost/internal/record"
	"github.com/outpostdb/outpost/internal/resolve"
	syncmgr "github.com/outpostdb/outpost/internal/sync"
	"github.com/outpostdb/outpost/internal/transport"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "outpost",
	Short: "Resilience layer for an embedded query engine",
	Long: `Outpost keeps a local embedded replica usable and convergent.

It bounds the approximate memory cost of writes so callers can react before
an in-memory limit is breached, and reconciles the local replica against one
authoritative remote store via a push/pull protocol with timestamp-based
conflict resolution.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ./outpost.yaml, then .outpost/outpost.yaml)")
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// replica bundles the pieces every sync-facing command needs.
type replica struct {
	cfg     config.Config
	store   *executor.LocalStore
	client  *transport.Client
	manager *syncmgr.Manager
}

// openReplica opens the local store, builds the transport client, and
// constructs a manager seeded with the persisted watermark.
func openReplica(ctx context.Context) (*replica, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := executor.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	client, err := transport.NewClient(transport.Config{
		ServerURL: cfg.ServerURL,
		Compress:  cfg.Compress,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	watermark, err := store.Watermark(ctx, cfg.Table)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager := syncmgr.New(store, client, &syncmgr.Config{
		ClientID:     cfg.ClientID,
		Strategy:     resolve.Strategy(cfg.Strategy),
		LastSyncTime: watermark,
	})

	return &replica{cfg: cfg, store: store, client: client, manager: manager}, nil
}

// rewindTo moves the sync point to an explicit timestamp and rebuilds the
// manager seeded from it.
func (r *replica) rewindTo(ctx context.Context, since int64) error {
	if err := r.store.SetWatermark(ctx, r.cfg.Table, since); err != nil {
		return err
	}
	r.manager = syncmgr.New(r.store, r.client, &syncmgr.Config{
		ClientID:     r.cfg.ClientID,
		Strategy:     resolve.Strategy(r.cfg.Strategy),
		LastSyncTime: since,
	})
	return nil
}

func (r *replica) close() {
	if err := r.store.Close(); err != nil {
		fmt.Printf("Warning: failed to close store: %v\n", err)
	}
}

// requeueOfflineChanges loads local records written since the watermark back
// into the pending queue, so edits made while no process was running still
// reach the server.
func (r *replica) requeueOfflineChanges(ctx context.Context) (int, error) {
	changed, err := r.store.ChangedSince(ctx, r.cfg.Table, r.manager.LastSyncTime())
	if err != nil {
		return 0, err
	}
	for _, rec := range changed {
		if rec.ClientID != "" && rec.ClientID != r.manager.ClientID() {
			continue // pulled from another replica, nothing to push back
		}
		r.manager.QueueRecord(r.cfg.Table, record.OpUpdate, rec)
	}
	return r.manager.Status().PendingCount, nil
}

// persistWatermark writes the manager's sync point back to the store.
func (r *replica) persistWatermark(ctx context.Context) error {
	return r.store.SetWatermark(ctx, r.cfg.Table, r.manager.LastSyncTime())
}
