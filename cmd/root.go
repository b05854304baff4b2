// Package cmd defines the CLI commands for the leadsd executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/config"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/logging"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
)

var (
	cfgFile string
	ocrFlag bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadsd",
		Short: "Municipal property record collection and resolution.",
		Long: `leadsd collects property records from municipal sources (assessor
property cards, commitment book PDFs, GIS feature services), normalizes
them into a canonical schema, and resolves records that describe the same
parcel into entity clusters.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults)")
	cmd.PersistentFlags().BoolVar(&ocrFlag, "ocr", false, "enable OCR fallback for image-only PDF pages")

	cmd.AddCommand(newCollectCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// loadEnvironment loads configuration and builds the process logger.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
