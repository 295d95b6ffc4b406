package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cumulusfs/cumulus/pkg/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run maintenance sweeps",
}

var sweepRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sweep round and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if dryRun {
			cfg.Sweep.DryRun = true
		}

		cat, err := config.CreateCatalog(&cfg.Catalog)
		if err != nil {
			return err
		}
		store, err := config.CreateStore(cmd.Context(), &cfg.Storage)
		if err != nil {
			return err
		}

		sweeper := config.CreateSweeper(cat, store, cfg)
		stats, err := sweeper.RunNow(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(stats.Summary())
		return nil
	},
}

func init() {
	sweepCmd.AddCommand(sweepRunCmd)
	sweepRunCmd.Flags().Bool("dry-run", false, "Log what would be removed without removing anything")
}
