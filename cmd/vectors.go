package cmd

import (
	"context"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/index"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var vectorsConfirm bool

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "Operate directly on the vector index",
}

var vectorsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every vector in the index",
	Run: func(_ *cobra.Command, _ []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		if !vectorsConfirm {
			logger.Fatal().Msg("Refusing to purge the index without --yes")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		indexClient, err := index.NewClient()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create vector index client")
		}

		outcome, err := indexClient.DeleteAll(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to purge the index")
		}

		logger.Info().
			Bool("success", outcome.Success).
			Int("vectors_found", outcome.VectorsFound).
			Int("vectors_deleted", outcome.VectorsDeleted).
			Msg("Index purge completed")
	},
}

func init() {
	rootCmd.AddCommand(vectorsCmd)
	vectorsCmd.AddCommand(vectorsPurgeCmd)

	vectorsPurgeCmd.Flags().BoolVar(&vectorsConfirm, "yes", false, "Confirm the purge")
}
