package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCollectCmd creates the 'collect' subcommand: one collection pass over
// every configured source, summary printed to stdout.
func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one collection pass over the configured sources",
		Long: `Fetches every configured source under its rate policy, extracts and
normalizes the records, resolves entity clusters, and stores the result.
Interrupting the run drains in-flight work and stores the partial result.`,
		RunE: runCollectCommand,
	}
}

func runCollectCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collab, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer collab.close()

	run, err := collab.orchestrator.Run(ctx)
	if err != nil {
		return fmt.Errorf("collection run: %w", err)
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("render run summary: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if len(run.Errors) > 0 {
		logger.Warn("run completed with errors", zap.Int("errors", len(run.Errors)))
	}
	return nil
}
