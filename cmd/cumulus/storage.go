package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cumulusfs/cumulus/pkg/config"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and manage storage backends",
}

var storageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := config.CreateStore(cmd.Context(), &cfg.Storage)
		if err != nil {
			return err
		}

		for _, b := range store.Backends() {
			line := fmt.Sprintf("%-16s %s", b.Name(), b.Intents())
			if reporter, ok := b.(storage.CapacityReporter); ok {
				free, total, err := reporter.Capacity(cmd.Context())
				if err == nil {
					line += fmt.Sprintf("  free=%s total=%s", humanBytes(free), humanBytes(total))
				}
			}
			fmt.Println(line)
		}
		return nil
	},
}

var storageMigrateCmd = &cobra.Command{
	Use:   "migrate SOURCE DEST",
	Short: "Move all objects from one backend to another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		keepSource, _ := cmd.Flags().GetBool("keep-source")
		parallel, _ := cmd.Flags().GetInt("parallel")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := config.CreateStore(cmd.Context(), &cfg.Storage)
		if err != nil {
			return err
		}

		src, err := findBackend(store, args[0])
		if err != nil {
			return err
		}
		dst, err := findBackend(store, args[1])
		if err != nil {
			return err
		}
		if src == dst {
			return fmt.Errorf("source and destination are the same backend")
		}

		result, err := store.Migrate(cmd.Context(), src, dst, storage.MigrateOptions{
			DryRun:     dryRun,
			Force:      force,
			KeepSource: keepSource,
			Parallel:   parallel,
			Progress: func(key storage.Key, bytes int64, err error) {
				switch {
				case err != nil:
					fmt.Printf("FAIL %s: %v\n", key, err)
				case bytes == 0:
					fmt.Printf("skip %s\n", key)
				default:
					fmt.Printf("ok   %s (%s)\n", key, humanBytes(uint64(bytes)))
				}
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("\nmigrated %d object(s), skipped %d, failed %d\n",
			result.Objects, result.Skipped, result.Failed)
		fmt.Printf("%s in %s (%s/s)\n",
			humanBytes(uint64(result.Bytes)), result.Elapsed.Round(time.Millisecond),
			humanBytes(uint64(result.Throughput())))
		if result.Failed > 0 {
			return fmt.Errorf("%d object(s) failed to migrate", result.Failed)
		}
		return nil
	},
}

func findBackend(store *storage.Store, name string) (storage.Backend, error) {
	for _, b := range store.Backends() {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown backend: %q", name)
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	storageCmd.AddCommand(storageListCmd)
	storageCmd.AddCommand(storageMigrateCmd)
	storageMigrateCmd.Flags().Bool("dry-run", false, "Log what would be migrated without moving bytes")
	storageMigrateCmd.Flags().Bool("force", false, "Re-transfer objects that already exist on the destination")
	storageMigrateCmd.Flags().Bool("keep-source", false, "Leave source objects in place after transfer")
	storageMigrateCmd.Flags().IntP("parallel", "p", 4, "Number of concurrent transfers")
}
