package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"cabildo/internal/platform/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *migrate.Migrate) error { return m.Up() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *migrate.Migrate) error { return m.Steps(-1) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(*cobra.Command, []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Printf("version %d (dirty=%v)\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(fn func(*migrate.Migrate) error) error {
	cfg := config.Load()
	m, err := migrate.New("file://"+cfg.MigrationsDir, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open migrator: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no change")
			return nil
		}
		return err
	}
	return nil
}
