package cmd

import (
	"context"
	"encoding/json"

	"github.com/knowledgeforge/kbsync/internal/manager/registry"
	"github.com/knowledgeforge/kbsync/pkg/db"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage registered sources",
	Long:  `Inspect and manage the source registry: list, get, and delete.`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered sources",
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		database, err := db.NewConnection()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer func(database *db.DB) {
			if err := database.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database")
			}
		}(database)

		reg := registry.NewSourceRegistry(database)
		sources, err := reg.LoadAll(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list sources")
		}

		if len(sources) == 0 {
			logger.Info().Msg("No sources registered")
			return
		}

		jsonOutput, err := json.MarshalIndent(sources, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().Msg(string(jsonOutput))
	},
}

var sourcesGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get a source and its indexed state by ID",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		orchestrator, database, err := buildOrchestrator(embeddingModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build sync stack")
		}
		defer database.Close()

		details, err := orchestrator.GetSourceDetails(context.Background(), args[0])
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to get source details")
		}

		jsonOutput, err := json.MarshalIndent(details, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().Msg(string(jsonOutput))
	},
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a source and purge its vectors",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		orchestrator, database, err := buildOrchestrator(embeddingModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build sync stack")
		}
		defer database.Close()

		outcome, err := orchestrator.DeleteSourceVectors(context.Background(), args[0])
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to delete source")
		}

		logger.Info().
			Bool("success", outcome.Success).
			Int("vectors_found", outcome.VectorsFound).
			Int("vectors_deleted", outcome.VectorsDeleted).
			Int("vectors_failed", outcome.VectorsFailed).
			Msg("Source deletion completed")
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesGetCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
}
