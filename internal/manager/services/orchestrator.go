package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/interfaces"
	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// Bound on concurrent per-source syncs during reconciliation. The
	// fingerprint-diff no-op makes most sources cheap, so a modest pool
	// bounds outbound connection and embedding-API load.
	defaultSyncWorkers = 8
	// Per-source chunk cap bounding index growth from runaway sources.
	defaultMaxChunksPerSource = 1000
	// Catalog defaults applied when the external metadata omits limits.
	defaultCatalogMaxPages  = 20
	defaultCatalogMaxDepth  = 2
	messageNoChangesDetect  = "no changes detected"
	messageNoDocumentsFound = "no documents found"
)

var ErrNothingToEmbed = errors.New("no chunk contents to embed")

// Acquirer is the content acquisition pipeline boundary: best-effort
// documents plus a message describing total failure.
type Acquirer interface {
	Acquire(ctx context.Context, source *models.Source) ([]models.RawDocument, string)
}

// Chunker is the splitting/fingerprinting boundary.
type Chunker interface {
	Split(documents []models.RawDocument, source *models.Source) ([]models.Chunk, error)
}

// Orchestrator drives the per-source upsert workflow and catalog
// reconciliation. It owns the lifetimes of its collaborators; nothing here
// is process-global.
type Orchestrator struct {
	registry  interfaces.Registry
	pipeline  Acquirer
	chunker   Chunker
	embedder  interfaces.Embedder
	index     interfaces.VectorIndex
	catalog   interfaces.Catalog
	workers   int
	maxChunks int
	logger    zerolog.Logger
}

// NewOrchestrator wires the sync workflow. All collaborators are injected;
// worker pool size and per-source chunk cap come from the environment.
func NewOrchestrator(
	reg interfaces.Registry,
	pipeline Acquirer,
	chunker Chunker,
	embedder interfaces.Embedder,
	index interfaces.VectorIndex,
	cat interfaces.Catalog,
) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		pipeline:  pipeline,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		catalog:   cat,
		workers:   getIntFromEnv("SYNC_WORKERS", defaultSyncWorkers),
		maxChunks: getIntFromEnv("MAX_CHUNKS_PER_SOURCE", defaultMaxChunksPerSource),
		logger:    util.NewLogger(zerolog.ErrorLevel),
	}
}

// UpsertSource runs the central workflow for one source: acquire, chunk,
// fingerprint-diff, embed, index, persist. Unchanged content is detected by
// fingerprint set equality and skips embedding entirely.
func (o *Orchestrator) UpsertSource(ctx context.Context, source *models.Source) (*models.UpsertOutcome, error) {
	started := time.Now()

	if source.ID == "" {
		source.ID = models.SourceIDForURL(source.URL)
	}

	documents, failureMsg := o.pipeline.Acquire(ctx, source)
	if len(documents) == 0 {
		message := messageNoDocumentsFound
		if failureMsg != "" {
			message = fmt.Sprintf("%s: %s", messageNoDocumentsFound, failureMsg)
		}
		o.logger.Warn().Str("source_id", source.ID).Str("url", source.URL).Msg(message)
		return &models.UpsertOutcome{
			SourceID:    source.ID,
			IsNewSource: !o.sourceExists(ctx, source.ID),
			Message:     message,
			Elapsed:     time.Since(started),
		}, nil
	}

	return o.indexDocuments(ctx, source, documents, false, started)
}

// indexDocuments chunks acquired documents and reconciles the vector index
// with them. force skips the fingerprint diff and always reindexes.
func (o *Orchestrator) indexDocuments(
	ctx context.Context,
	source *models.Source,
	documents []models.RawDocument,
	force bool,
	started time.Time,
) (*models.UpsertOutcome, error) {
	chunks, err := o.chunker.Split(documents, source)
	if err != nil {
		return nil, fmt.Errorf("chunking %s: %w", source.URL, err)
	}
	if len(chunks) > o.maxChunks {
		o.logger.Warn().
			Str("source_id", source.ID).
			Int("chunks", len(chunks)).
			Int("cap", o.maxChunks).
			Msg("chunk cap exceeded, truncating")
		chunks = chunks[:o.maxChunks]
	}

	newFingerprints := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		newFingerprints[chunk.Fingerprint] = struct{}{}
	}

	isNew := !o.sourceExists(ctx, source.ID)

	if !isNew && !force {
		oldFingerprints, err := o.index.GetChunkFingerprints(ctx, source.ID)
		if err != nil {
			return nil, fmt.Errorf("fetching fingerprints for %s: %w", source.ID, err)
		}

		if fingerprintSetsEqual(oldFingerprints, newFingerprints) {
			// The cost-avoidance optimization: skip embedding entirely
			o.logger.Info().Str("source_id", source.ID).Msg("no changes detected, skipping reindex")
			o.applyDerivedState(source, chunks)
			if err := o.registry.Upsert(ctx, source); err != nil {
				return nil, fmt.Errorf("persisting source %s: %w", source.ID, err)
			}
			return &models.UpsertOutcome{
				SourceID: source.ID,
				Message:  messageNoChangesDetect,
				Elapsed:  time.Since(started),
			}, nil
		}
	}

	if !isNew || force {
		// Changed sources are fully reindexed: delete everything before
		// adding the new chunk set
		outcome, err := o.index.DeleteBySourceID(ctx, source.ID)
		if err != nil {
			return nil, fmt.Errorf("purging vectors for %s: %w", source.ID, err)
		}
		if !outcome.Success {
			o.logger.Warn().
				Str("source_id", source.ID).
				Int("failed", outcome.VectorsFailed).
				Msg("partial vector purge before reindex")
		}
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	if len(texts) == 0 {
		return nil, ErrNothingToEmbed
	}

	embeddings, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks for %s: %w", len(texts), source.ID, err)
	}

	if err := o.index.Add(ctx, chunks, embeddings); err != nil {
		return nil, fmt.Errorf("indexing %d chunks for %s: %w", len(chunks), source.ID, err)
	}

	o.applyDerivedState(source, chunks)
	if err := o.registry.Upsert(ctx, source); err != nil {
		return nil, fmt.Errorf("persisting source %s: %w", source.ID, err)
	}

	o.logger.Info().
		Str("source_id", source.ID).
		Bool("is_new", isNew).
		Int("chunks", len(chunks)).
		Msg("source indexed")

	return &models.UpsertOutcome{
		SourceID:       source.ID,
		IsNewSource:    isNew,
		DocumentsAdded: len(chunks),
		Elapsed:        time.Since(started),
	}, nil
}

// ReconcileCatalog diffs the external catalog against the registry, keyed by
// normalized URL: stale registry entries are purged, new catalog entries
// synced, entries in both resynced with current catalog configuration. An
// unreachable catalog skips every deletion.
func (o *Orchestrator) ReconcileCatalog(ctx context.Context, limit int) (*models.ReconcileOutcome, error) {
	started := time.Now()
	outcome := &models.ReconcileOutcome{ExternalSourcesAvailable: true}

	external, err := o.catalog.ListSources(ctx)
	if err != nil {
		// A registry entry must never be purged just because the catalog
		// was temporarily unreachable
		o.logger.Error().Err(err).Msg("external catalog unavailable, skipping deletions")
		outcome.ExternalSourcesAvailable = false
		outcome.DeletionsSkipped = true
		outcome.Elapsed = time.Since(started)
		return outcome, nil
	}

	enabled := make([]models.CatalogSource, 0, len(external))
	for _, entry := range external {
		if entry.Enabled {
			enabled = append(enabled, entry)
		}
	}
	// The limit truncates before diffing so deletions are computed against
	// the same truncated view
	if limit > 0 && len(enabled) > limit {
		enabled = enabled[:limit]
	}

	wanted := make(map[string]models.CatalogSource, len(enabled))
	for _, entry := range enabled {
		wanted[models.NormalizeURL(entry.URL)] = entry
	}

	known, err := o.registry.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	knownByURL := make(map[string]models.Source, len(known))
	for _, source := range known {
		knownByURL[models.NormalizeURL(source.URL)] = source
	}

	// Stale: in the registry but absent from the catalog view
	for url, source := range knownByURL {
		if _, stillWanted := wanted[url]; stillWanted {
			continue
		}
		if o.deleteSource(ctx, source, outcome) {
			outcome.Deleted++
		}
	}

	// New or updated: sync with the catalog's current configuration so
	// config edits take effect on the next run
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, o.workers)

	for _, entry := range enabled {
		wg.Add(1)
		go func(entry models.CatalogSource) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			source := sourceFromCatalog(entry)
			result, err := o.UpsertSource(ctx, source)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Errored++
				outcome.Failures = append(outcome.Failures, models.SyncFailure{
					Identifier: entry.URL,
					Reason:     err.Error(),
				})
				return
			}

			outcome.ChunksAdded += result.DocumentsAdded
			switch {
			case result.IsNewSource:
				outcome.Created++
			case result.Message == messageNoChangesDetect:
				outcome.Unchanged++
			default:
				outcome.Updated++
			}
		}(entry)
	}
	wg.Wait()

	outcome.Elapsed = time.Since(started)
	o.logger.Info().
		Int("created", outcome.Created).
		Int("updated", outcome.Updated).
		Int("deleted", outcome.Deleted).
		Int("unchanged", outcome.Unchanged).
		Int("errored", outcome.Errored).
		Msg("catalog reconciliation completed")
	return outcome, nil
}

// deleteSource purges a stale source's vectors and registry row. Index-side
// failure is recorded but does not abort remaining deletions.
func (o *Orchestrator) deleteSource(ctx context.Context, source models.Source, outcome *models.ReconcileOutcome) bool {
	purge, err := o.index.DeleteBySourceID(ctx, source.ID)
	if err != nil || !purge.Success {
		reason := "partial vector purge"
		if err != nil {
			reason = err.Error()
		}
		o.logger.Error().Str("source_id", source.ID).Str("reason", reason).Msg("Failed to purge stale source vectors")
		outcome.Errored++
		outcome.Failures = append(outcome.Failures, models.SyncFailure{
			Identifier: source.URL,
			Reason:     reason,
		})
		return false
	}

	if _, err := o.registry.DeleteByID(ctx, source.ID); err != nil {
		outcome.Errored++
		outcome.Failures = append(outcome.Failures, models.SyncFailure{
			Identifier: source.URL,
			Reason:     err.Error(),
		})
		return false
	}

	o.logger.Info().Str("source_id", source.ID).Str("url", source.URL).Msg("stale source removed")
	return true
}

// Search embeds the query and runs a top-k similarity search.
func (o *Orchestrator) Search(
	ctx context.Context,
	query string,
	topK int,
	filter map[string]string,
) ([]models.SearchResult, error) {
	embedding, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return o.index.SimilaritySearch(ctx, embedding, topK, filter)
}

// GetSources returns every registered source.
func (o *Orchestrator) GetSources(ctx context.Context) ([]models.Source, error) {
	return o.registry.LoadAll(ctx)
}

// GetSourceDetails combines the registry row with the live indexed state.
func (o *Orchestrator) GetSourceDetails(ctx context.Context, id string) (*models.SourceDetails, error) {
	source, err := o.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fingerprints, err := o.index.GetChunkFingerprints(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &models.SourceDetails{
		Source:        *source,
		TotalChunks:   source.TotalChunks,
		IndexedChunks: len(fingerprints),
	}
	for fingerprint := range fingerprints {
		details.Fingerprints = append(details.Fingerprints, fingerprint)
	}
	sort.Strings(details.Fingerprints)
	return details, nil
}

// DeleteSourceVectors removes a source's vector records and registry row.
func (o *Orchestrator) DeleteSourceVectors(ctx context.Context, id string) (*models.DeleteOutcome, error) {
	outcome, err := o.index.DeleteBySourceID(ctx, id)
	if err != nil {
		return nil, err
	}
	if outcome.Success {
		if _, err := o.registry.DeleteByID(ctx, id); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// DeleteAllVectors purges the whole index.
func (o *Orchestrator) DeleteAllVectors(ctx context.Context) (*models.DeleteOutcome, error) {
	return o.index.DeleteAll(ctx)
}

func (o *Orchestrator) sourceExists(ctx context.Context, id string) bool {
	_, err := o.registry.FindByID(ctx, id)
	return err == nil
}

// applyDerivedState refreshes the source's section URLs and chunk count from
// the chunk set about to be (or already) indexed.
func (o *Orchestrator) applyDerivedState(source *models.Source, chunks []models.Chunk) {
	sections := make(map[string]struct{})
	for _, chunk := range chunks {
		sections[chunk.SectionURL] = struct{}{}
	}

	source.SectionURLs = source.SectionURLs[:0]
	for section := range sections {
		source.SectionURLs = append(source.SectionURLs, section)
	}
	sort.Strings(source.SectionURLs)
	source.TotalChunks = len(chunks)
}

// sourceFromCatalog builds a Source from external metadata, applying
// defaults when limits are absent.
func sourceFromCatalog(entry models.CatalogSource) *models.Source {
	maxPages := entry.MaxPages
	if maxPages <= 0 {
		maxPages = defaultCatalogMaxPages
	}
	maxDepth := entry.RecursionDepth
	if maxDepth <= 0 {
		maxDepth = defaultCatalogMaxDepth
	}

	mode := models.ModeSingle
	if maxPages > 1 {
		mode = models.ModeRecursive
	}

	return &models.Source{
		ID:              models.SourceIDForURL(entry.URL),
		URL:             models.NormalizeURL(entry.URL),
		Name:            entry.Name,
		AcquisitionMode: mode,
		MaxPages:        maxPages,
		MaxDepth:        maxDepth,
		IncludePatterns: entry.IncludePatterns,
		ExcludePatterns: entry.ExcludePatterns,
		Category:        entry.Category,
		Description:     entry.Description,
		ContentOrigin:   "external",
	}
}

func fingerprintSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		if _, ok := b[key]; !ok {
			return false
		}
	}
	return true
}

func getIntFromEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
