package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/config"
	"github.com/jgirmay/pulse/pkg/database"
	"github.com/jgirmay/pulse/pkg/logging"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the attendance schema",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()

			if err := database.Migrate(db); err != nil {
				return err
			}
			logger.Info("database migrated", zap.String("database", maskDSN(cfg.Database.DSN)))
			return nil
		},
	}
}
