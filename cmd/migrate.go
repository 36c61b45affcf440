package cmd

import (
	"github.com/gift_custody/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(appConfig.Database, logger)
		if err != nil {
			return err
		}
		if err := model.AutoMigrate(db); err != nil {
			return err
		}
		logger.Info("migration done", zap.String("driver", appConfig.Database.Driver))
		return nil
	},
}
