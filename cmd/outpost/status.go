package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/ui"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica sync status",
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

		status := r.manager.Status()
		stored, err := r.store.CountRecords(ctx, r.cfg.Table)
		if err != nil {
			return err
		}

		if statusJSON {
			out := map[string]any{
				"client_id":      status.ClientID,
				"last_sync_time": status.LastSyncTime,
				"pending_count":  status.PendingCount,
				"is_syncing":     status.IsSyncing,
				"stored_records": stored,
				"table":          r.cfg.Table,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Printf("%s Replica status\n", ui.RenderAccent("●"))
		fmt.Printf("   Client:  %s\n", status.ClientID)
		fmt.Printf("   Table:   %s (%d records)\n", r.cfg.Table, stored)
		if status.LastSyncTime == 0 {
			fmt.Printf("   Synced:  never\n")
		} else {
			fmt.Printf("   Synced:  %s\n", time.Unix(status.LastSyncTime, 0).Format(time.RFC3339))
		}
		if pending > 0 {
			fmt.Printf("   Pending: %s\n", ui.RenderWarn(fmt.Sprintf("%d changes", pending)))
		} else {
			fmt.Printf("   Pending: %s\n", ui.RenderPass("none"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable output")
	rootCmd.AddCommand(statusCmd)
}
