package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/ui"
)

var pullSince string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one push/pull cycle against the sync server",
	Long: `Run one full sync cycle:

  1. Requeue local records written since the last sync point
  2. Push the pending queue to the server
  3. Pull remote changes and resolve conflicts per record
  4. Advance the persisted sync watermark`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := openReplica(ctx)
		if err != nil {
			return err
		}
		defer r.close()

		pending, err := r.requeueOfflineChanges(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Syncing %q against %s (%d pending)...\n",
			ui.RenderAccent("→"), r.cfg.Table, r.cfg.ServerURL, pending)
		start := time.Now()

		result, err := r.manager.Sync(ctx, r.cfg.Table, r.cfg.Fields)
		if err != nil {
			fmt.Printf("%s Sync failed, %d changes remain pending\n",
				ui.RenderFail("✗"), r.manager.Status().PendingCount)
			return err
		}
		if err := r.persistWatermark(ctx); err != nil {
			return err
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pushed: %d\n", result.Pushed)
		fmt.Printf("   Pulled: %d\n", result.Pulled)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push pending local changes without pulling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := openReplica(ctx)
		if err != nil {
			return err
		}
		defer r.close()

		if _, err := r.requeueOfflineChanges(ctx); err != nil {
			return err
		}

		pushed, err := r.manager.Push(ctx, r.cfg.Table)
		if err != nil {
			fmt.Printf("%s Push failed, %d changes remain pending\n",
				ui.RenderFail("✗"), r.manager.Status().PendingCount)
			return err
		}

		fmt.Printf("%s Pushed %d records\n", ui.RenderPass("✓"), pushed)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote changes without pushing",
	Long: `Fetch remote records updated since the persisted sync point and apply
them locally, resolving conflicts with the configured strategy.

--since accepts a unix timestamp, RFC 3339, or natural language:

  outpost pull --since "10 minutes ago"
  outpost pull --since 1756000000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := openReplica(ctx)
		if err != nil {
			return err
		}
		defer r.close()

		if pullSince != "" {
			since, err := parseSince(pullSince)
			if err != nil {
				return err
			}
			if err := r.rewindTo(ctx, since); err != nil {
				return err
			}
		}

		pulled, err := r.manager.Pull(ctx, r.cfg.Table, r.cfg.Fields)
		if err != nil {
			fmt.Printf("%s Pull failed\n", ui.RenderFail("✗"))
			return err
		}
		if err := r.persistWatermark(ctx); err != nil {
			return err
		}

		fmt.Printf("%s Applied %d remote records\n", ui.RenderPass("✓"), pulled)
		return nil
	},
}

// parseSince accepts unix seconds, RFC 3339, or natural language.
func parseSince(raw string) (int64, error) {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Unix(), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(raw, time.Now())
	if err != nil || result == nil {
		return 0, fmt.Errorf("could not parse --since value %q", raw)
	}
	return result.Time.Unix(), nil
}

func init() {
	pullCmd.Flags().StringVar(&pullSince, "since", "", "override the sync point to pull from")
	rootCmd.AddCommand(syncCmd, pushCmd, pullCmd)
}
