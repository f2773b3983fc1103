package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emailez/backend/config"
	"github.com/emailez/backend/internal/bootstrap"
	"github.com/emailez/backend/internal/credentials"
	"github.com/emailez/backend/internal/dispatch"
	"github.com/emailez/backend/internal/models"
)

// Workspace commands
var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Workspace management commands",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an active workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			ws := &models.Workspace{Name: args[0]}
			if err := app.Workspaces.Create(ctx, ws); err != nil {
				return fmt.Errorf("create workspace: %w", err)
			}
			return printJSON(cmd, ws)
		})
	},
}

var workspaceActivateCmd = &cobra.Command{
	Use:   "set-active <workspace-id> <true|false>",
	Short: "Activate or deactivate a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workspace id: %w", err)
		}
		active := strings.EqualFold(args[1], "true")
		if !active && !strings.EqualFold(args[1], "false") {
			return fmt.Errorf("expected true or false, got %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.Workspaces.SetActive(ctx, id, active); err != nil {
				return err
			}
			ws, err := app.Workspaces.GetByID(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, ws)
		})
	},
}

// API key commands
var apiKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "API key management commands",
}

var apiKeyCreateCmd = &cobra.Command{
	Use:   "create <workspace-id>",
	Short: "Create an API key. The plaintext key is printed once.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workspace id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			plaintext, key, err := app.APIKeys.CreateAPIKey(ctx, id)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}
			return printJSON(cmd, map[string]any{"api_key": plaintext, "prefix": key.Prefix, "workspace_id": key.WorkspaceID})
		})
	},
}

var apiKeyRevokeCmd = &cobra.Command{
	Use:   "revoke <prefix>",
	Short: "Revoke an API key by its prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if err := app.APIKeys.Revoke(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		})
	},
}

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "issue-token <workspace-id>",
	Short: "Issue a bearer JWT scoped to a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workspace id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if _, err := app.Workspaces.GetByID(ctx, id); err != nil {
				return fmt.Errorf("workspace %s: %w", id, err)
			}
			token, err := app.JWT.Generate(id, tokenSubject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

var (
	retryMaxRetries       int
	retryIncludePermanent bool
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed <workspace-id>",
	Short: "Re-queue failed emails of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workspace id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			n, err := app.Dispatch.RetryFailedEmails(ctx, id, dispatch.RetryOptions{
				MaxRetries:       retryMaxRetries,
				IncludePermanent: retryIncludePermanent,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"retried_count": n})
		})
	},
}

var (
	sweepGrace time.Duration
	sweepLimit int
)

var sweepOutboxCmd = &cobra.Command{
	Use:   "sweep-outbox",
	Short: "Resubmit send jobs whose enqueue never reached the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			n, err := app.Dispatch.SweepOutbox(ctx, sweepGrace, sweepLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"swept_count": n})
		})
	},
}

var encryptPasswordCmd = &cobra.Command{
	Use:   "encrypt-password",
	Short: "Encrypt an SMTP password read from stdin under CREDENTIALS_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cipher, err := credentials.NewCipher(cfg.Credentials.Secret)
		if err != nil {
			return err
		}
		password, err := readSecret(cmd)
		if err != nil {
			return err
		}
		out, err := cipher.Encrypt(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func readSecret(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password on stdin")
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func init() {
	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceActivateCmd)
	apiKeyCmd.AddCommand(apiKeyCreateCmd, apiKeyRevokeCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "dispatchctl", "token subject")

	retryFailedCmd.Flags().IntVar(&retryMaxRetries, "max-retries", 0, "attempt ceiling (0 uses DISPATCH_MAX_RETRIES)")
	retryFailedCmd.Flags().BoolVar(&retryIncludePermanent, "include-permanent", false, "also re-queue non-retryable failures")

	sweepOutboxCmd.Flags().DurationVar(&sweepGrace, "grace", time.Minute, "only resubmit entries older than this")
	sweepOutboxCmd.Flags().IntVar(&sweepLimit, "limit", 100, "maximum entries per run")
}
