package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Index API batch-size limit for upserts and deletes.
	defaultBatchSize = 100
	// Page size for enumeration.
	defaultPageSize = 100
	// Per-batch timeout so one slow batch does not stall the sequence.
	defaultBatchTimeout = 30 * time.Second
)

var (
	ErrIndexURLRequired    = errors.New("VECTOR_INDEX_URL environment variable is required")
	ErrIndexAPIKeyRequired = errors.New("VECTOR_INDEX_API_KEY environment variable is required")
	ErrEmbeddingMismatch   = errors.New("chunk and embedding counts do not match")
	ErrUpsertFailed        = errors.New("vector upsert request failed")
	ErrListFailed          = errors.New("vector list request failed")
	ErrQueryFailed         = errors.New("vector query request failed")
)

// Client is a thin wrapper around the remote vector index service: batched
// upsert, batched delete, paginated enumeration, and top-k similarity search.
type Client struct {
	apiURL       string
	apiKey       string
	httpClient   *http.Client
	batchSize    int
	batchTimeout time.Duration
	logger       zerolog.Logger
}

type upsertRequest struct {
	Vectors []models.VectorRecord `json:"vectors"`
}

type deleteRequest struct {
	Keys []string `json:"keys,omitempty"`
	All  bool     `json:"all,omitempty"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type listRequest struct {
	Filter          map[string]string `json:"filter,omitempty"`
	Cursor          string            `json:"cursor,omitempty"`
	Limit           int               `json:"limit"`
	IncludeMetadata bool              `json:"include_metadata"`
}

type listResponse struct {
	Vectors []struct {
		Key      string            `json:"key"`
		Metadata map[string]string `json:"metadata"`
	} `json:"vectors"`
	NextCursor string `json:"next_cursor"`
}

type queryRequest struct {
	Embedding       []float32         `json:"embedding"`
	TopK            int               `json:"top_k"`
	Filter          map[string]string `json:"filter,omitempty"`
	IncludeMetadata bool              `json:"include_metadata"`
}

type queryResponse struct {
	Matches []struct {
		Key      string            `json:"key"`
		Score    float64           `json:"score"`
		Metadata map[string]string `json:"metadata"`
	} `json:"matches"`
}

// NewClient creates a vector index client from environment configuration.
func NewClient() (*Client, error) {
	return NewClientWithHTTP(nil, "")
}

// NewClientWithHTTP creates a vector index client with a custom HTTP client
// and API URL.
func NewClientWithHTTP(httpClient *http.Client, apiURL string) (*Client, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if apiURL == "" {
		apiURL = os.Getenv("VECTOR_INDEX_URL")
		if strings.EqualFold(apiURL, "") {
			logger.Error().Msg("VECTOR_INDEX_URL env variable not set")
			return nil, ErrIndexURLRequired
		}
	}

	apiKey := os.Getenv("VECTOR_INDEX_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("VECTOR_INDEX_API_KEY env variable not set")
		return nil, ErrIndexAPIKeyRequired
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultBatchTimeout}
	}

	return &Client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		httpClient:   httpClient,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
		logger:       logger,
	}, nil
}

// Add stores one VectorRecord per chunk, keyed by fingerprint, in batches of
// the index's batch-size limit. Any batch failure is a hard error; callers
// only reach Add after deciding a full re-embed is necessary.
func (c *Client) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		c.logger.Error().
			Int("chunks", len(chunks)).
			Int("embeddings", len(embeddings)).
			Msg("chunk and embedding counts do not match")
		return ErrEmbeddingMismatch
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = models.VectorRecord{
			Key:       chunk.Fingerprint,
			Embedding: embeddings[i],
			Metadata:  recordMetadata(chunk),
		}
	}

	for start := 0; start < len(records); start += c.batchSize {
		end := start + c.batchSize
		if end > len(records) {
			end = len(records)
		}

		if err := c.upsertBatch(ctx, records[start:end]); err != nil {
			c.logger.Error().Err(err).Int("batch_start", start).Msg("Failed to upsert batch")
			return fmt.Errorf("upsert batch starting at %d: %w", start, err)
		}
	}

	c.logger.Debug().Int("records", len(records)).Msg("Upserted vector records")
	return nil
}

// DeleteBySourceID enumerates every key tagged with the source ID and deletes
// them in bounded batches. Batch failures degrade to partial success with
// exact counts instead of failing the whole operation.
func (c *Client) DeleteBySourceID(ctx context.Context, sourceID string) (*models.DeleteOutcome, error) {
	keys, err := c.listKeys(ctx, map[string]string{"source_id": sourceID})
	if err != nil {
		return nil, err
	}

	outcome := &models.DeleteOutcome{
		Success:      true,
		VectorsFound: len(keys),
	}
	if len(keys) == 0 {
		// Nothing indexed for this source is a normal outcome
		return outcome, nil
	}

	for start := 0; start < len(keys); start += c.batchSize {
		end := start + c.batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		if err := c.deleteBatch(ctx, batch); err != nil {
			c.logger.Error().
				Err(err).
				Str("source_id", sourceID).
				Int("batch_start", start).
				Msg("Failed to delete batch")
			outcome.VectorsFailed += len(batch)
			outcome.FailedKeys = append(outcome.FailedKeys, batch...)
			continue
		}
		outcome.VectorsDeleted += len(batch)
	}

	outcome.Success = outcome.VectorsFailed == 0
	return outcome, nil
}

// DeleteAll purges every record from the index.
func (c *Client) DeleteAll(ctx context.Context) (*models.DeleteOutcome, error) {
	keys, err := c.listKeys(ctx, nil)
	if err != nil {
		return nil, err
	}

	outcome := &models.DeleteOutcome{Success: true, VectorsFound: len(keys)}
	if len(keys) == 0 {
		return outcome, nil
	}

	if err := c.deleteBatchRequest(ctx, deleteRequest{All: true}); err != nil {
		outcome.Success = false
		outcome.VectorsFailed = len(keys)
		return outcome, nil
	}
	outcome.VectorsDeleted = len(keys)
	return outcome, nil
}

// GetChunkFingerprints returns the set of distinct fingerprints currently
// indexed for a source.
func (c *Client) GetChunkFingerprints(ctx context.Context, sourceID string) (map[string]struct{}, error) {
	fingerprints := make(map[string]struct{})

	err := c.eachPage(ctx, map[string]string{"source_id": sourceID}, func(page *listResponse) {
		for _, vector := range page.Vectors {
			fingerprint := vector.Metadata["fingerprint"]
			if fingerprint == "" {
				fingerprint = vector.Key
			}
			fingerprints[fingerprint] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}

	return fingerprints, nil
}

// SimilaritySearch runs a top-k nearest-neighbor query. Scores are
// similarities, higher is more relevant.
func (c *Client) SimilaritySearch(
	ctx context.Context,
	embedding []float32,
	topK int,
	filter map[string]string,
) ([]models.SearchResult, error) {
	request := queryRequest{
		Embedding:       embedding,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	}

	var response queryResponse
	if err := c.post(ctx, "/vectors/query", request, &response); err != nil {
		c.logger.Error().Err(err).Msg("Vector query failed")
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	results := make([]models.SearchResult, len(response.Matches))
	for i, match := range response.Matches {
		results[i] = models.SearchResult{
			Content:    match.Metadata["content"],
			SourceURL:  match.Metadata["source_url"],
			SectionURL: match.Metadata["section_url"],
			Score:      match.Score,
			Metadata:   match.Metadata,
		}
	}

	return results, nil
}

// listKeys enumerates all keys matching the filter. Pagination never
// truncates silently; pages are fetched until the service reports no cursor.
func (c *Client) listKeys(ctx context.Context, filter map[string]string) ([]string, error) {
	var keys []string
	err := c.eachPage(ctx, filter, func(page *listResponse) {
		for _, vector := range page.Vectors {
			keys = append(keys, vector.Key)
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *Client) eachPage(ctx context.Context, filter map[string]string, visit func(*listResponse)) error {
	cursor := ""
	for {
		request := listRequest{
			Filter:          filter,
			Cursor:          cursor,
			Limit:           defaultPageSize,
			IncludeMetadata: true,
		}

		var response listResponse
		if err := c.post(ctx, "/vectors/list", request, &response); err != nil {
			c.logger.Error().Err(err).Msg("Vector list failed")
			return fmt.Errorf("%w: %v", ErrListFailed, err)
		}

		visit(&response)

		if response.NextCursor == "" {
			return nil
		}
		cursor = response.NextCursor
	}
}

func (c *Client) upsertBatch(ctx context.Context, records []models.VectorRecord) error {
	batchCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()
	return c.post(batchCtx, "/vectors/upsert", upsertRequest{Vectors: records}, nil)
}

func (c *Client) deleteBatch(ctx context.Context, keys []string) error {
	return c.deleteBatchRequest(ctx, deleteRequest{Keys: keys})
}

func (c *Client) deleteBatchRequest(ctx context.Context, request deleteRequest) error {
	batchCtx, cancel := context.WithTimeout(ctx, c.batchTimeout)
	defer cancel()
	var response deleteResponse
	return c.post(batchCtx, "/vectors/delete", request, &response)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.apiURL+path,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status_code", resp.StatusCode).Str("path", path).Msg("Index API request failed")
		return fmt.Errorf("index API returned status %d for %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// recordMetadata flattens a chunk into the metadata stored on its record.
func recordMetadata(chunk models.Chunk) map[string]string {
	metadata := map[string]string{
		"source_id":   chunk.SourceID,
		"section_url": chunk.SectionURL,
		"fingerprint": chunk.Fingerprint,
		"content":     chunk.Content,
		"ordinal":     strconv.Itoa(chunk.Ordinal),
		"name":        chunk.Name,
		"category":    chunk.Category,
		"description": chunk.Description,
	}
	for key, value := range chunk.Extra {
		metadata[key] = value
	}
	return metadata
}
