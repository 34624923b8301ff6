package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	searchTopK    int
	searchSource  string
	searchTimeout time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the vector index",
	Long: `Embed a query and return the most similar indexed chunks.

Examples:
  kbsync search "how do I rotate API keys"
  kbsync search --top-k 10 --source-id 7d4f... "billing"`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		logger := util.NewLogger(zerolog.ErrorLevel)

		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()

		orchestrator, database, err := buildOrchestrator(embeddingModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build sync stack")
		}
		defer database.Close()

		var filter map[string]string
		if searchSource != "" {
			filter = map[string]string{"source_id": searchSource}
		}

		results, err := orchestrator.Search(ctx, args[0], searchTopK, filter)
		if err != nil {
			logger.Fatal().Err(err).Msg("Search failed")
		}

		if len(results) == 0 {
			logger.Info().Msg("No results")
			return
		}

		jsonOutput, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to marshal JSON")
		}
		logger.Info().Msg(string(jsonOutput))
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "Number of results to return")
	searchCmd.Flags().StringVar(&searchSource, "source-id", "", "Restrict results to a single source")
	searchCmd.Flags().DurationVar(&searchTimeout, "timeout", 30*time.Second, "Timeout for the search")
}
