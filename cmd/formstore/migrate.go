package main

import (
	"fmt"

	"formvault/api/internal/store"

	"github.com/spf13/cobra"
)

func newMigrateCmd(env *cliEnv) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = env.cfg.MigrationsDir
			}
			db, err := store.Open(cmd.Context(), env.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(cmd.Context(), db, dir, env.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintf(out, "applied %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Migrations directory (default MIGRATIONS_DIR)")
	return cmd
}
