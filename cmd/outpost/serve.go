package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/server"
	"github.com/outpostdb/outpost/internal/ui"
)

var serveDBPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference sync server",
	Long: `Run the authoritative sync server for local development.

The server accepts pushes at POST /sync/{table}, serves pulls at
GET /sync/{table}, and exposes Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dbPath := serveDBPath
		if dbPath == "" {
			dbPath = filepath.Join(filepath.Dir(cfg.StorePath), "server.db")
		}

		store, err := server.OpenStore(dbPath)
		if err != nil {
			return err
		}

		srv := server.New(store, &server.Config{
			Port:    cfg.ServerPort,
			Metrics: metrics.New(),
		})
		if err := srv.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Sync server on %s (store %s), Ctrl-C to stop\n",
			ui.RenderAccent("●"), srv.Addr(), dbPath)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		return srv.Stop()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "server database path (default alongside the replica)")
	rootCmd.AddCommand(serveCmd)
}
