package cmd

import (
	"github.com/knowledgeforge/kbsync/pkg/db"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the registry schema",
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.InfoLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer func(database *db.DB) {
			if err := database.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database")
			}
		}(database)

		if err := database.EnsureSchema(); err != nil {
			logger.Fatal().Err(err).Msg("Migration failed")
		}
		logger.Info().Msg("Registry schema is up to date")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
