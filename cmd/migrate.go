package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pageweight/internal/storage/migrate"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != migrate.DriverPostgres && cfg.Storage.Driver != migrate.DriverSQLite {
				return fmt.Errorf("storage.driver %q has no schema to migrate", cfg.Storage.Driver)
			}
			applied, err := migrate.Run(cmd.Context(), cfg.Storage.Driver, cfg.Storage.DSN)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return err
			}
			for _, v := range applied {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Applied migration %05d\n", v); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
