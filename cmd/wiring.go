package cmd

import (
	"errors"

	"github.com/knowledgeforge/kbsync/internal/manager/acquire"
	"github.com/knowledgeforge/kbsync/internal/manager/catalog"
	"github.com/knowledgeforge/kbsync/internal/manager/chunkers"
	"github.com/knowledgeforge/kbsync/internal/manager/embedders"
	"github.com/knowledgeforge/kbsync/internal/manager/index"
	"github.com/knowledgeforge/kbsync/internal/manager/interfaces"
	"github.com/knowledgeforge/kbsync/internal/manager/registry"
	"github.com/knowledgeforge/kbsync/internal/manager/services"
	"github.com/knowledgeforge/kbsync/pkg/db"
)

var ErrUnsupportedEmbeddingModel = errors.New("unsupported embedding model")

// newEmbedder resolves the configured embedding provider by model name.
func newEmbedder(model string) (interfaces.Embedder, error) {
	switch model {
	case "text-embedding-3-small", "text-embedding-3-large", "text-embedding-ada-002":
		return embedders.NewOpenAIEmbedder(model)
	case "togethercomputer/m2-bert-80M-8k-retrieval", "togethercomputer/m2-bert-80M-32k-retrieval":
		return embedders.NewTogetherAIEmbedder(model)
	default:
		return nil, ErrUnsupportedEmbeddingModel
	}
}

// buildOrchestrator wires the full sync stack from environment
// configuration. The caller owns closing the returned database.
func buildOrchestrator(model string) (*services.Orchestrator, *db.DB, error) {
	database, err := db.NewConnection()
	if err != nil {
		return nil, nil, err
	}

	embedder, err := newEmbedder(model)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	indexClient, err := index.NewClient()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	catalogClient, err := catalog.NewClient()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	chunker, err := chunkers.NewDefaultTokenChunker()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	orchestrator := services.NewOrchestrator(
		registry.NewSourceRegistry(database),
		acquire.NewPipeline(nil),
		chunker,
		embedder,
		indexClient,
		catalogClient,
	)
	return orchestrator, database, nil
}
