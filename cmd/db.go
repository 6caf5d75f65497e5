package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/rewind-lang/internal/config"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the feed history database",
}

// dbMigrateCmd applies the embedded migrations
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL, err := loadDatabaseURL()
		if err != nil {
			return err
		}

		if err := config.RunMigrations(databaseURL); err != nil {
			return err
		}

		version, _, err := config.MigrationVersion(databaseURL)
		if err != nil {
			return err
		}
		cmd.Printf("Database schema is at version %d\n", version)
		return nil
	},
}

// dbVersionCmd reports the applied schema version
var dbVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL, err := loadDatabaseURL()
		if err != nil {
			return err
		}

		version, dirty, err := config.MigrationVersion(databaseURL)
		if err != nil {
			return err
		}
		if dirty {
			cmd.Printf("Database schema is at version %d (dirty)\n", version)
			return nil
		}
		cmd.Printf("Database schema is at version %d\n", version)
		return nil
	},
}

func loadDatabaseURL() (string, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	dbConfig, err := cfg.ParseDatabaseConfig()
	if err != nil {
		return "", fmt.Errorf("failed to parse database config: %w", err)
	}
	return dbConfig.URL(), nil
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbVersionCmd)
}
