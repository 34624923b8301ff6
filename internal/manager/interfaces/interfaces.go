package interfaces

import (
	"context"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
)

// AcquireResult represents the output of one acquisition attempt.
type AcquireResult struct {
	Documents []models.RawDocument
	Error     error
}

// AcquisitionStrategy defines the interface for loading raw documents from a
// source. Strategies are chained by the pipeline controller with ordered
// fallback; an individual strategy failing is a normal outcome.
type AcquisitionStrategy interface {
	// TryLoad fetches the documents this strategy can produce for the source
	TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error)

	// Name returns the strategy identifier recorded on produced documents
	Name() string
}

// Embedder defines the interface for generating vector embeddings.
type Embedder interface {
	// EmbedDocuments creates one embedding per input text, in order
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery creates an embedding for a search query
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// GetModelName returns the name of the embedding model
	GetModelName() string

	// GetDimension returns the dimension of the embedding vectors
	GetDimension() int
}

// VectorIndex defines the operations the sync pipeline needs from the remote
// vector index. Batch operations degrade to partial-failure reports instead
// of raising on partial batch errors.
type VectorIndex interface {
	// Add embeds nothing itself; it stores pre-embedded chunk records
	Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error

	// DeleteBySourceID removes every record tagged with the source ID
	DeleteBySourceID(ctx context.Context, sourceID string) (*models.DeleteOutcome, error)

	// DeleteAll purges the whole index
	DeleteAll(ctx context.Context) (*models.DeleteOutcome, error)

	// GetChunkFingerprints returns the distinct fingerprints currently
	// indexed for a source, the basis for change detection
	GetChunkFingerprints(ctx context.Context, sourceID string) (map[string]struct{}, error)

	// SimilaritySearch runs a top-k nearest-neighbor query
	SimilaritySearch(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]models.SearchResult, error)
}

// Registry defines the durable store of Source records.
type Registry interface {
	LoadAll(ctx context.Context) ([]models.Source, error)
	FindByID(ctx context.Context, id string) (*models.Source, error)
	FindByURL(ctx context.Context, url string) (*models.Source, error)
	Upsert(ctx context.Context, source *models.Source) error
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// Catalog defines the external catalog of source descriptors, consumed
// page-by-page until exhausted.
type Catalog interface {
	ListSources(ctx context.Context) ([]models.CatalogSource, error)
}

// BlobStore defines the remote blob storage used for uploaded files.
type BlobStore interface {
	ListObjects(ctx context.Context, prefix string) ([]models.BlobObject, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, body []byte) error
	DeleteObject(ctx context.Context, key string) error
}
