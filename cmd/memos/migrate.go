package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var path string

	// resolve loads the DB settings; migrations do not need the full validated config.
	resolve := func() (config.DBConfig, string, error) {
		cfg, err := config.Load()
		if err != nil {
			return config.DBConfig{}, "", err
		}
		setupLogger(cfg.Log, os.Stdout)
		dir := path
		if dir == "" {
			dir = cfg.DB.MigrationsPath
		}
		return cfg.DB, dir, nil
	}

	up := func(cmd *cobra.Command, args []string) error {
		db, dir, err := resolve()
		if err != nil {
			return err
		}
		return database.RunMigrations(db.DSN(), dir)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  up,
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory (default DB_MIGRATIONS_PATH)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		RunE:  up,
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dir, err := resolve()
			if err != nil {
				return err
			}
			return database.RollbackMigrations(db.DSN(), dir, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dir, err := resolve()
			if err != nil {
				return err
			}
			v, dirty, err := database.MigrationVersion(db.DSN(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", v, dirty)
			return nil
		},
	})
	return cmd
}
