package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/rpattn/casetrail/internal/config"
	"github.com/rpattn/casetrail/internal/db"
)

func newMigrateCmd(load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadPostgres(load)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			return db.RunMigrations(cfg.Database, logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := loadPostgres(load)
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			return db.RollbackMigrations(cfg.Database, logger, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back all")

	cmd.AddCommand(up, down)
	return cmd
}

func loadPostgres(load func() (config.Config, error)) (config.Config, error) {
	cfg, err := load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Store != config.StorePostgres {
		return config.Config{}, errors.New("migrations require the postgres store")
	}
	return cfg, nil
}
