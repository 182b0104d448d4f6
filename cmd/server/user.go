package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/events"
	"github.com/sakif/authd/internal/service"
)

// newUserCmd groups the account administration commands. Deactivating a user
// blocks login and makes every token they hold stop verifying.
func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
	}
	cmd.AddCommand(
		newSetActiveCmd(a, "activate", "Allow the user to log in again", true),
		newSetActiveCmd(a, "deactivate", "Block the user from logging in", false),
	)
	return cmd
}

func newSetActiveCmd(a *app, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMigratedStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			passwords, err := auth.NewPasswordService(a.cfg.Auth.BcryptCost)
			if err != nil {
				return err
			}
			tokens := service.NewTokenService(store, a.logger)
			svc := service.NewAuthService(store, tokens, passwords, events.Noop{}, a.cfg.Auth.TokenTTL, a.logger)

			user, err := svc.SetActive(cmd.Context(), args[0], active)
			if err != nil {
				return err
			}

			state := "inactive"
			if user.IsActive {
				state = "active"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", user.Email, user.ID, state)
			return nil
		},
	}
}

func newTokensCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Maintain access tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete access tokens past their expiry",
		Long: `Delete access tokens past their expiry.

Expired tokens are already rejected on use; pruning only reclaims space.
Run it from cron or a scheduled job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMigratedStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := service.NewTokenService(store, a.logger).PruneExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired tokens\n", n)
			return nil
		},
	})

	return cmd
}
