package cmd

import (
	"github.com/spf13/cobra"

	"github.com/substrata-ai/substrata/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Long: `Applies all pending schema migrations to the configured PostgreSQL
database. Migrations are embedded in the binary and tracked in the
schema_migrations table; re-running is a no-op.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return db.Migrate(cfg.PostgresURL())
}
