// Package main is the operator CLI: workspace and key administration, retries and outbox sweeps.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/emailez/backend/config"
	"github.com/emailez/backend/internal/bootstrap"
)

var (
	verbose bool
	timeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "dispatchctl",
	Short:         "Email dispatch operator tool",
	Long:          "dispatchctl administers workspaces and API keys, re-queues failed emails and resubmits stuck outbox entries.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "overall command timeout")

	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(apiKeyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(retryFailedCmd)
	rootCmd.AddCommand(sweepOutboxCmd)
	rootCmd.AddCommand(encryptPasswordCmd)
}

func newLogger() *zap.Logger {
	if verbose {
		return bootstrap.NewLogger()
	}
	return zap.NewNop()
}

// withApp loads config, opens the app and runs fn under the command timeout.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	app, err := bootstrap.Open(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
