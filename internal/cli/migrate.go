package cli

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"FloorVault/internal/config"
	"FloorVault/internal/persistence"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Run database schema migrations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(cmd.Context()); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
		switch direction {
		case "up":
			return migrator.Up(cmd.Context())
		case "down":
			return migrator.Down(cmd.Context())
		default:
			return fmt.Errorf("unknown direction %q (want up or down)", direction)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
