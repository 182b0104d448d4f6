package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/events"
	"github.com/sakif/authd/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

Pending migrations are applied first unless --skip-migrations is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger := a.cfg, a.logger

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}

			if !skipMigrations {
				results, err := store.Migrate(ctx)
				if err != nil {
					store.Close()
					return fmt.Errorf("migrating database: %w", err)
				}
				for _, r := range results {
					logger.Info("migration applied",
						slog.Int64("version", r.Source.Version),
						slog.Duration("duration", r.Duration),
					)
				}
			}

			passwords, err := auth.NewPasswordService(cfg.Auth.BcryptCost)
			if err != nil {
				store.Close()
				return err
			}

			publisher, err := events.New(ctx, events.Config{
				Backend:               cfg.Events.Backend,
				Channel:               cfg.Events.Channel,
				RabbitMQURL:           cfg.Events.RabbitMQURL,
				PubSubProjectID:       cfg.Events.PubSubProjectID,
				PubSubCredentialsFile: cfg.Events.PubSubCredentialsFile,
			}, logger)
			if err != nil {
				store.Close()
				return err
			}

			deps := server.Deps{
				Store:     store,
				Publisher: publisher,
				Passwords: passwords,
			}
			if cfg.GoogleEnabled() {
				deps.Google = auth.NewGoogleProvider(
					cfg.Google.ClientID,
					cfg.Google.ClientSecret,
					cfg.GoogleCallbackURL(),
				)
			}

			srv, err := server.New(cfg, deps, logger)
			if err != nil {
				publisher.Close()
				store.Close()
				return fmt.Errorf("creating server: %w", err)
			}

			// Start blocks until the server is shut down and closes the
			// store and publisher on the way out.
			return srv.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}
