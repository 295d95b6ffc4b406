package main

import (
	"github.com/spf13/cobra"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cumulus",
	Short: "Personal cloud file-sync server",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: "+config.GetDefaultConfigPath()+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(sweepCmd)
}

// loadConfig reads the configuration and applies the logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, err
	}
	return cfg, nil
}
