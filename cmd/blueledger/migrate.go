package main

import (
	"fmt"

	"BlueLedger/internal/config"
	"BlueLedger/internal/observability"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the event log and projection schema",
	}
	defaults := config.Defaults()
	cmd.PersistentFlags().String("postgres-dsn", defaults["postgres_dsn"].(string), "Postgres connection string")
	cmd.PersistentFlags().String("migrations-dir", "", "read migrations from a directory instead of the embedded set")

	run := func(down bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			logger := observability.NewLoggerWithLevel("migrate", observability.ParseLevel(cfg.LogLevel))

			db, err := openDB(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			m := migrator(db, cfg, logger)
			if down {
				if err := m.Down(cmd.Context()); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "last migration rolled back")
				return nil
			}
			if err := m.Up(cmd.Context()); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations applied")
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(false)},
		&cobra.Command{Use: "down", Short: "Roll back the last migration", Args: cobra.NoArgs, RunE: run(true)},
	)
	return cmd
}
