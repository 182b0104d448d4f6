// Package main is the entry point of authd, the authentication service.
//
// WHY cmd/server/?
// The cmd/ directory is the Go convention for executable entry points. All
// logic lives in internal/; main only reads configuration, builds the
// long-lived dependencies and hands control to a cobra subcommand:
//
//	authd serve                      run the HTTP API
//	authd migrate up|status          manage the schema
//	authd user activate|deactivate   toggle the login gate of an account
//	authd tokens prune               delete expired access tokens
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/authd/internal/config"
)

// app carries what every subcommand needs. PersistentPreRunE fills it.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "authd",
		Short: "Email/password and Google OAuth authentication service",
		Long: `authd registers users, logs them in with email/password or Google,
and issues opaque bearer tokens valid for 7 days.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newUserCmd(a),
		newTokensCmd(a),
	)
	return root
}

// newLogger returns a human-readable logger on a developer machine and a
// JSON logger everywhere else.
//
// Log levels (from least to most severe): Debug → Info → Warn → Error
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsLocal() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		stop()
		os.Exit(1)
	}
}
