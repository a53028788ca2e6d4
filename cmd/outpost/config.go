package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outpostdb/outpost/internal/config"
	"github.com/outpostdb/outpost/internal/record"
	"github.com/outpostdb/outpost/internal/ui"
)

var configInitPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage outpost configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configInitPath); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", configInitPath)
		}

		cfg := config.Default()
		cfg.ClientID = record.NewClientID()
		if err := cfg.Write(configInitPath); err != nil {
			return err
		}

		fmt.Printf("%s Wrote %s (client id %s)\n", ui.RenderPass("✓"), configInitPath, cfg.ClientID)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", "outpost.yaml", "where to write the config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
