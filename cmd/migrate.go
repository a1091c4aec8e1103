package cmd

import (
	"cotowatch/db"
	"cotowatch/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		if err := db.AutoMigrateModels(); err != nil {
			return err
		}
		logger.Info("Migration finished", logger.String("db", cfg.DBName))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
