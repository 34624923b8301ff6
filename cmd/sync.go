package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/blob"
	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/internal/manager/services"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	syncURL        string
	syncName       string
	syncMode       string
	syncMaxPages   int
	syncMaxDepth   int
	syncLimit      int
	syncAll        bool
	syncCatalog    bool
	syncTimeout    time.Duration
	embeddingModel string
)

// syncCmd drives the sync pipelines.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync sources into the vector index",
	Long: `Sync content sources into the vector index.

Examples:
  # Sync a single source by URL
  kbsync sync --url "https://docs.example.com" --mode recursive --max-pages 50

  # Reconcile the external catalog against the registry
  kbsync sync --catalog --limit 100

  # Run every pipeline: catalog, blob files, internal guidance
  kbsync sync --all`,
	Run: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncURL, "url", "u", "", "Source URL to sync")
	syncCmd.Flags().StringVar(&syncName, "name", "", "Display name for the source")
	syncCmd.Flags().StringVar(&syncMode, "mode", "single", "Acquisition mode (single, sitemap, recursive, file)")
	syncCmd.Flags().IntVar(&syncMaxPages, "max-pages", 1, "Maximum pages to acquire")
	syncCmd.Flags().IntVar(&syncMaxDepth, "max-depth", 0, "Maximum crawl depth")
	syncCmd.Flags().BoolVar(&syncCatalog, "catalog", false, "Reconcile the external catalog")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "Limit the catalog's enabled sources before reconciliation")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Run every sync pipeline")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 30*time.Minute, "Timeout for the entire operation")
	syncCmd.Flags().
		StringVarP(&embeddingModel, "model", "m", "text-embedding-3-small", "Embedding model to use")
}

func runSync(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	orchestrator, database, err := buildOrchestrator(embeddingModel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build sync stack")
	}
	defer database.Close()

	switch {
	case syncAll:
		blobClient, err := blob.NewClient()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create blob storage client")
		}

		coordinator := services.NewCoordinator(orchestrator, blobClient)
		outcome := coordinator.SyncAll(ctx)
		printJSON(logger, outcome)

	case syncCatalog:
		outcome, err := orchestrator.ReconcileCatalog(ctx, syncLimit)
		if err != nil {
			logger.Fatal().Err(err).Msg("Catalog reconciliation failed")
		}
		printJSON(logger, outcome)

	case syncURL != "":
		source := &models.Source{
			ID:              models.SourceIDForURL(syncURL),
			URL:             models.NormalizeURL(syncURL),
			Name:            syncName,
			AcquisitionMode: models.AcquisitionMode(syncMode),
			MaxPages:        syncMaxPages,
			MaxDepth:        syncMaxDepth,
		}
		if source.Name == "" {
			source.Name = source.URL
		}

		outcome, err := orchestrator.UpsertSource(ctx, source)
		if err != nil {
			logger.Fatal().Err(err).Str("url", syncURL).Msg("Source sync failed")
		}
		printJSON(logger, outcome)

	default:
		logger.Fatal().Msg("One of --url, --catalog or --all is required")
	}
}

func printJSON(logger zerolog.Logger, value any) {
	jsonOutput, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to marshal JSON")
	}
	logger.Info().Msg(string(jsonOutput))
}
