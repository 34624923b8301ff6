package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
)

var errFakeNotFound = errors.New("source not found")

// fakeRegistry is an in-memory Registry safe for concurrent use.
type fakeRegistry struct {
	mu      sync.Mutex
	sources map[string]models.Source
	failAll bool
}

func newFakeRegistry(seed ...models.Source) *fakeRegistry {
	registry := &fakeRegistry{sources: make(map[string]models.Source)}
	for _, source := range seed {
		registry.sources[source.ID] = source
	}
	return registry
}

func (f *fakeRegistry) LoadAll(_ context.Context) ([]models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("registry unavailable")
	}
	var all []models.Source
	for _, source := range f.sources {
		all = append(all, source)
	}
	return all, nil
}

func (f *fakeRegistry) FindByID(_ context.Context, id string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source, ok := f.sources[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return &source, nil
}

func (f *fakeRegistry) FindByURL(_ context.Context, url string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	normalized := models.NormalizeURL(url)
	for _, source := range f.sources {
		if models.NormalizeURL(source.URL) == normalized {
			return &source, nil
		}
	}
	return nil, errFakeNotFound
}

func (f *fakeRegistry) Upsert(_ context.Context, source *models.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[source.ID] = *source
	return nil
}

func (f *fakeRegistry) DeleteByID(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sources[id]
	delete(f.sources, id)
	return ok, nil
}

func (f *fakeRegistry) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

// fakeIndex is an in-memory VectorIndex recording the operation sequence.
type fakeIndex struct {
	mu           sync.Mutex
	fingerprints map[string]map[string]struct{}
	operations   []string
	deleteResult *models.DeleteOutcome
	deleteErr    error
	addErr       error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{fingerprints: make(map[string]map[string]struct{})}
}

func (f *fakeIndex) seed(sourceID string, fingerprints ...string) {
	set := make(map[string]struct{}, len(fingerprints))
	for _, fingerprint := range fingerprints {
		set[fingerprint] = struct{}{}
	}
	f.fingerprints[sourceID] = set
}

func (f *fakeIndex) Add(_ context.Context, chunks []models.Chunk, embeddings [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, "add")
	if f.addErr != nil {
		return f.addErr
	}
	if len(chunks) != len(embeddings) {
		return errors.New("count mismatch")
	}
	for _, chunk := range chunks {
		set, ok := f.fingerprints[chunk.SourceID]
		if !ok {
			set = make(map[string]struct{})
			f.fingerprints[chunk.SourceID] = set
		}
		set[chunk.Fingerprint] = struct{}{}
	}
	return nil
}

func (f *fakeIndex) DeleteBySourceID(_ context.Context, sourceID string) (*models.DeleteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, "delete:"+sourceID)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if f.deleteResult != nil {
		return f.deleteResult, nil
	}
	found := len(f.fingerprints[sourceID])
	delete(f.fingerprints, sourceID)
	return &models.DeleteOutcome{Success: true, VectorsFound: found, VectorsDeleted: found}, nil
}

func (f *fakeIndex) DeleteAll(_ context.Context) (*models.DeleteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, set := range f.fingerprints {
		total += len(set)
	}
	f.fingerprints = make(map[string]map[string]struct{})
	return &models.DeleteOutcome{Success: true, VectorsFound: total, VectorsDeleted: total}, nil
}

func (f *fakeIndex) GetChunkFingerprints(_ context.Context, sourceID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, "list:"+sourceID)
	set := make(map[string]struct{}, len(f.fingerprints[sourceID]))
	for fingerprint := range f.fingerprints[sourceID] {
		set[fingerprint] = struct{}{}
	}
	return set, nil
}

func (f *fakeIndex) SimilaritySearch(
	_ context.Context,
	_ []float32,
	topK int,
	_ map[string]string,
) ([]models.SearchResult, error) {
	results := make([]models.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		results = append(results, models.SearchResult{Content: fmt.Sprintf("result-%d", i), Score: 1 - float64(i)/10})
	}
	return results, nil
}

func (f *fakeIndex) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.operations...)
}

// fakeEmbedder counts embedding calls; every call must be paid for, so the
// no-op path is observable here.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	embeddings := make([][]float32, len(texts))
	for i := range embeddings {
		embeddings[i] = []float32{float32(i)}
	}
	return embeddings, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) GetModelName() string { return "fake-embedder" }
func (f *fakeEmbedder) GetDimension() int    { return 2 }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAcquirer returns canned documents keyed by normalized source URL.
type fakeAcquirer struct {
	mu        sync.Mutex
	documents map[string][]models.RawDocument
	message   string
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{documents: make(map[string][]models.RawDocument)}
}

func (f *fakeAcquirer) setDocuments(url string, contents ...string) {
	var documents []models.RawDocument
	for i, content := range contents {
		documents = append(documents, models.RawDocument{
			Content:   content,
			OriginURL: fmt.Sprintf("%s/page-%d", models.NormalizeURL(url), i),
		})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[models.NormalizeURL(url)] = documents
}

func (f *fakeAcquirer) Acquire(_ context.Context, source *models.Source) ([]models.RawDocument, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	documents := f.documents[models.NormalizeURL(source.URL)]
	if len(documents) == 0 {
		return nil, f.message
	}
	return documents, ""
}

// fakeChunker produces one fingerprinted chunk per document.
type fakeChunker struct{}

func (fakeChunker) Split(documents []models.RawDocument, source *models.Source) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for i, doc := range documents {
		chunks = append(chunks, models.Chunk{
			Content:     doc.Content,
			SourceID:    source.ID,
			SectionURL:  doc.OriginURL,
			Fingerprint: models.FingerprintContent(doc.Content),
			Ordinal:     i,
			Name:        source.Name,
		})
	}
	return chunks, nil
}

// fakeCatalog serves a fixed source list or a canned failure.
type fakeCatalog struct {
	sources []models.CatalogSource
	err     error
}

func (f *fakeCatalog) ListSources(_ context.Context) ([]models.CatalogSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

func newTestOrchestrator(
	registry *fakeRegistry,
	index *fakeIndex,
	embedder *fakeEmbedder,
	acquirer *fakeAcquirer,
	catalog *fakeCatalog,
) *Orchestrator {
	orchestrator := NewOrchestrator(registry, acquirer, fakeChunker{}, embedder, index, catalog)
	orchestrator.workers = 2
	return orchestrator
}

func TestUpsertSource_NewSource(t *testing.T) {
	registry := newFakeRegistry()
	index := newFakeIndex()
	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()

	url := "https://docs.example.com"
	acquirer.setDocuments(url, "intro content", "setup content")

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, &fakeCatalog{})
	source := &models.Source{URL: url, Name: "Example Docs"}

	outcome, err := orchestrator.UpsertSource(context.Background(), source)
	if err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	if !outcome.IsNewSource {
		t.Error("Expected IsNewSource for an unregistered URL")
	}
	if outcome.DocumentsAdded != 2 {
		t.Errorf("Expected 2 chunks added, got %d", outcome.DocumentsAdded)
	}
	if outcome.SourceID != models.SourceIDForURL(url) {
		t.Errorf("Expected derived source ID, got %s", outcome.SourceID)
	}
	if embedder.callCount() != 1 {
		t.Errorf("Expected one embedding call, got %d", embedder.callCount())
	}
	if registry.count() != 1 {
		t.Errorf("Expected the source to be persisted, registry has %d rows", registry.count())
	}

	persisted, err := registry.FindByID(context.Background(), outcome.SourceID)
	if err != nil {
		t.Fatalf("Persisted source not found: %v", err)
	}
	if persisted.TotalChunks != 2 {
		t.Errorf("Expected derived TotalChunks 2, got %d", persisted.TotalChunks)
	}
	if len(persisted.SectionURLs) != 2 {
		t.Errorf("Expected 2 section URLs, got %v", persisted.SectionURLs)
	}

	// A brand-new source never triggers a pre-delete
	for _, op := range index.ops() {
		if op == "delete:"+outcome.SourceID {
			t.Error("Unexpected vector delete for a new source")
		}
	}
}

func TestUpsertSource_NoChangesSkipsEmbedding(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)

	registry := newFakeRegistry(models.Source{ID: id, URL: url, Name: "Example Docs"})
	index := newFakeIndex()
	index.seed(id,
		models.FingerprintContent("intro content"),
		models.FingerprintContent("setup content"),
	)

	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()
	acquirer.setDocuments(url, "intro content", "setup content")

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, &fakeCatalog{})

	outcome, err := orchestrator.UpsertSource(context.Background(), &models.Source{ID: id, URL: url, Name: "Example Docs"})
	if err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	if outcome.Message != "no changes detected" {
		t.Errorf("Expected no-changes message, got %q", outcome.Message)
	}
	if outcome.DocumentsAdded != 0 {
		t.Errorf("Expected no documents added, got %d", outcome.DocumentsAdded)
	}
	if embedder.callCount() != 0 {
		t.Errorf("Expected embedding to be skipped entirely, got %d calls", embedder.callCount())
	}
	for _, op := range index.ops() {
		if op == "add" || op == "delete:"+id {
			t.Errorf("Unexpected index mutation %q on the no-op path", op)
		}
	}
}

func TestUpsertSource_ChangedContentReindexes(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)

	// Indexed state {f1, f2, f3}; acquisition now yields {f1, f2, f4}
	registry := newFakeRegistry(models.Source{ID: id, URL: url})
	index := newFakeIndex()
	index.seed(id,
		models.FingerprintContent("chunk one"),
		models.FingerprintContent("chunk two"),
		models.FingerprintContent("chunk three"),
	)

	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()
	acquirer.setDocuments(url, "chunk one", "chunk two", "chunk four")

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, &fakeCatalog{})

	outcome, err := orchestrator.UpsertSource(context.Background(), &models.Source{ID: id, URL: url})
	if err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}

	if outcome.DocumentsAdded != 3 {
		t.Errorf("Expected the full new chunk set (3) to be indexed, got %d", outcome.DocumentsAdded)
	}
	if embedder.callCount() != 1 {
		t.Errorf("Expected one embedding call, got %d", embedder.callCount())
	}

	// Old vectors are purged before the new set is added
	ops := index.ops()
	deleteAt, addAt := -1, -1
	for i, op := range ops {
		switch op {
		case "delete:" + id:
			deleteAt = i
		case "add":
			addAt = i
		}
	}
	if deleteAt == -1 || addAt == -1 || deleteAt > addAt {
		t.Errorf("Expected delete-then-add sequence, got %v", ops)
	}

	remaining, _ := index.GetChunkFingerprints(context.Background(), id)
	if len(remaining) != 3 {
		t.Errorf("Expected 3 indexed fingerprints after reindex, got %d", len(remaining))
	}
	if _, stale := remaining[models.FingerprintContent("chunk three")]; stale {
		t.Error("Expected the stale fingerprint to be gone after reindex")
	}
	if _, fresh := remaining[models.FingerprintContent("chunk four")]; !fresh {
		t.Error("Expected the new fingerprint to be indexed")
	}
}

func TestUpsertSource_AcquisitionFailure(t *testing.T) {
	registry := newFakeRegistry()
	index := newFakeIndex()
	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()
	acquirer.message = "single-page rejected: content requires script execution"

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, &fakeCatalog{})

	outcome, err := orchestrator.UpsertSource(context.Background(), &models.Source{URL: "https://broken.example.com"})
	if err != nil {
		t.Fatalf("Expected structured outcome instead of error, got %v", err)
	}

	if outcome.Message == "" {
		t.Error("Expected a descriptive failure message")
	}
	if outcome.DocumentsAdded != 0 {
		t.Errorf("Expected no documents, got %d", outcome.DocumentsAdded)
	}
	if embedder.callCount() != 0 || len(index.ops()) != 0 {
		t.Error("Expected no embedding or index activity for a failed acquisition")
	}
	if registry.count() != 0 {
		t.Error("Expected nothing persisted for a failed acquisition")
	}
}

func TestUpsertSource_ChunkCap(t *testing.T) {
	registry := newFakeRegistry()
	index := newFakeIndex()
	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()

	url := "https://huge.example.com"
	contents := make([]string, 8)
	for i := range contents {
		contents[i] = fmt.Sprintf("chunk number %d", i)
	}
	acquirer.setDocuments(url, contents...)

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, &fakeCatalog{})
	orchestrator.maxChunks = 5

	outcome, err := orchestrator.UpsertSource(context.Background(), &models.Source{URL: url})
	if err != nil {
		t.Fatalf("UpsertSource failed: %v", err)
	}
	if outcome.DocumentsAdded != 5 {
		t.Errorf("Expected chunk cap of 5, got %d", outcome.DocumentsAdded)
	}

	indexed, _ := index.GetChunkFingerprints(context.Background(), outcome.SourceID)
	if _, ok := indexed[models.FingerprintContent("chunk number 0")]; !ok {
		t.Error("Expected truncation to keep the earliest chunks")
	}
	if _, ok := indexed[models.FingerprintContent("chunk number 7")]; ok {
		t.Error("Expected truncation to drop the latest chunks")
	}
}

func TestReconcileCatalog_CatalogUnavailable(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)
	registry := newFakeRegistry(models.Source{ID: id, URL: url})
	index := newFakeIndex()
	embedder := &fakeEmbedder{}

	catalog := &fakeCatalog{err: errors.New("external catalog unavailable: status 503")}
	orchestrator := newTestOrchestrator(registry, index, embedder, newFakeAcquirer(), catalog)

	outcome, err := orchestrator.ReconcileCatalog(context.Background(), 0)
	if err != nil {
		t.Fatalf("Expected structured outcome for unavailable catalog, got error %v", err)
	}

	if outcome.ExternalSourcesAvailable {
		t.Error("Expected ExternalSourcesAvailable=false")
	}
	if !outcome.DeletionsSkipped {
		t.Error("Expected DeletionsSkipped=true")
	}
	if outcome.Deleted != 0 || registry.count() != 1 {
		t.Error("Expected the registry to be left untouched when the catalog is unreachable")
	}
	if len(index.ops()) != 0 {
		t.Errorf("Expected no index activity, got %v", index.ops())
	}
}

func TestReconcileCatalog_CreateUpdateDelete(t *testing.T) {
	newURL := "https://new.example.com"
	keptURL := "https://kept.example.com"
	staleURL := "https://stale.example.com"
	keptID := models.SourceIDForURL(keptURL)
	staleID := models.SourceIDForURL(staleURL)

	registry := newFakeRegistry(
		models.Source{ID: keptID, URL: keptURL, Name: "Kept"},
		models.Source{ID: staleID, URL: staleURL, Name: "Stale"},
	)
	index := newFakeIndex()
	index.seed(keptID, models.FingerprintContent("kept content"))
	index.seed(staleID, models.FingerprintContent("stale content"))

	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()
	acquirer.setDocuments(newURL, "new content")
	acquirer.setDocuments(keptURL, "kept content")

	catalog := &fakeCatalog{sources: []models.CatalogSource{
		{Name: "New", URL: newURL, MaxPages: 1, Enabled: true},
		{Name: "Kept", URL: keptURL, MaxPages: 1, Enabled: true},
		{Name: "Disabled", URL: "https://disabled.example.com", MaxPages: 1, Enabled: false},
	}}

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, catalog)

	outcome, err := orchestrator.ReconcileCatalog(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReconcileCatalog failed: %v", err)
	}

	if outcome.Created != 1 {
		t.Errorf("Expected 1 created, got %d", outcome.Created)
	}
	if outcome.Unchanged != 1 {
		t.Errorf("Expected 1 unchanged, got %d", outcome.Unchanged)
	}
	if outcome.Deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", outcome.Deleted)
	}
	if outcome.Errored != 0 {
		t.Errorf("Expected no errors, got %d: %v", outcome.Errored, outcome.Failures)
	}
	if !outcome.ExternalSourcesAvailable || outcome.DeletionsSkipped {
		t.Error("Expected a reachable catalog with deletions applied")
	}

	if _, err := registry.FindByID(context.Background(), staleID); err == nil {
		t.Error("Expected the stale source to be removed from the registry")
	}
	if fingerprints, _ := index.GetChunkFingerprints(context.Background(), staleID); len(fingerprints) != 0 {
		t.Error("Expected the stale source's vectors to be purged")
	}
	// Disabled catalog entries are never synced
	if _, err := registry.FindByID(context.Background(), models.SourceIDForURL("https://disabled.example.com")); err == nil {
		t.Error("Expected disabled catalog entries to be ignored")
	}
	// The unchanged source cost no embedding; only the new one did
	if embedder.callCount() != 1 {
		t.Errorf("Expected exactly 1 embedding call, got %d", embedder.callCount())
	}
}

func TestReconcileCatalog_LimitTruncatesBeforeDiff(t *testing.T) {
	firstURL := "https://first.example.com"
	secondURL := "https://second.example.com"
	thirdURL := "https://third.example.com"
	thirdID := models.SourceIDForURL(thirdURL)

	// The third source is registered but falls outside the limited view,
	// so it is treated as stale.
	registry := newFakeRegistry(models.Source{ID: thirdID, URL: thirdURL, Name: "Third"})
	index := newFakeIndex()
	index.seed(thirdID, models.FingerprintContent("third content"))

	embedder := &fakeEmbedder{}
	acquirer := newFakeAcquirer()
	acquirer.setDocuments(firstURL, "first content")
	acquirer.setDocuments(secondURL, "second content")

	catalog := &fakeCatalog{sources: []models.CatalogSource{
		{Name: "First", URL: firstURL, MaxPages: 1, Enabled: true},
		{Name: "Second", URL: secondURL, MaxPages: 1, Enabled: true},
		{Name: "Third", URL: thirdURL, MaxPages: 1, Enabled: true},
	}}

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, catalog)

	outcome, err := orchestrator.ReconcileCatalog(context.Background(), 2)
	if err != nil {
		t.Fatalf("ReconcileCatalog failed: %v", err)
	}

	if outcome.Created != 2 {
		t.Errorf("Expected 2 created within the limit, got %d", outcome.Created)
	}
	if outcome.Deleted != 1 {
		t.Errorf("Expected the out-of-limit source to be deleted, got %d", outcome.Deleted)
	}
	if _, err := registry.FindByID(context.Background(), thirdID); err == nil {
		t.Error("Expected the out-of-limit source to be gone from the registry")
	}
}

func TestReconcileCatalog_FailuresAreRecorded(t *testing.T) {
	okURL := "https://ok.example.com"
	brokenURL := "https://broken.example.com"

	registry := newFakeRegistry()
	index := newFakeIndex()
	embedder := &fakeEmbedder{err: nil}
	acquirer := newFakeAcquirer()
	acquirer.setDocuments(okURL, "ok content")
	acquirer.setDocuments(brokenURL, "broken content")

	catalog := &fakeCatalog{sources: []models.CatalogSource{
		{Name: "OK", URL: okURL, MaxPages: 1, Enabled: true},
		{Name: "Broken", URL: brokenURL, MaxPages: 1, Enabled: true},
	}}

	orchestrator := newTestOrchestrator(registry, index, embedder, acquirer, catalog)
	// One source's indexing fails; the other must still complete
	index.addErr = errors.New("index write failed")

	outcome, err := orchestrator.ReconcileCatalog(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReconcileCatalog failed: %v", err)
	}

	if outcome.Errored != 2 {
		// Both fail since the shared fake index rejects all adds
		t.Errorf("Expected both sources to error with a failing index, got %d", outcome.Errored)
	}
	if len(outcome.Failures) != outcome.Errored {
		t.Errorf("Expected one failure record per errored source, got %d records for %d errors",
			len(outcome.Failures), outcome.Errored)
	}
	for _, failure := range outcome.Failures {
		if failure.Identifier == "" || failure.Reason == "" {
			t.Errorf("Expected populated failure records, got %+v", failure)
		}
	}
}

func TestSearch(t *testing.T) {
	registry := newFakeRegistry()
	index := newFakeIndex()
	embedder := &fakeEmbedder{}

	orchestrator := newTestOrchestrator(registry, index, embedder, newFakeAcquirer(), &fakeCatalog{})

	results, err := orchestrator.Search(context.Background(), "how to configure", 3, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(results))
	}
	if embedder.callCount() != 1 {
		t.Errorf("Expected one query embedding, got %d calls", embedder.callCount())
	}
}

func TestDeleteSourceVectors(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)

	registry := newFakeRegistry(models.Source{ID: id, URL: url})
	index := newFakeIndex()
	index.seed(id, "fp-a", "fp-b")

	orchestrator := newTestOrchestrator(registry, index, &fakeEmbedder{}, newFakeAcquirer(), &fakeCatalog{})

	outcome, err := orchestrator.DeleteSourceVectors(context.Background(), id)
	if err != nil {
		t.Fatalf("DeleteSourceVectors failed: %v", err)
	}
	if !outcome.Success || outcome.VectorsDeleted != 2 {
		t.Errorf("Expected clean deletion of 2 vectors, got %+v", outcome)
	}
	if registry.count() != 0 {
		t.Error("Expected the registry row to be removed after a successful purge")
	}
}

func TestDeleteSourceVectors_PartialFailureKeepsRegistryRow(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)

	registry := newFakeRegistry(models.Source{ID: id, URL: url})
	index := newFakeIndex()
	index.deleteResult = &models.DeleteOutcome{
		Success:        false,
		VectorsFound:   150,
		VectorsDeleted: 100,
		VectorsFailed:  50,
	}

	orchestrator := newTestOrchestrator(registry, index, &fakeEmbedder{}, newFakeAcquirer(), &fakeCatalog{})

	outcome, err := orchestrator.DeleteSourceVectors(context.Background(), id)
	if err != nil {
		t.Fatalf("DeleteSourceVectors failed: %v", err)
	}
	if outcome.Success {
		t.Error("Expected partial failure to propagate")
	}
	if registry.count() != 1 {
		t.Error("Expected the registry row to survive a partial vector purge")
	}
}

func TestGetSourceDetails(t *testing.T) {
	url := "https://docs.example.com"
	id := models.SourceIDForURL(url)

	registry := newFakeRegistry(models.Source{ID: id, URL: url, Name: "Docs", TotalChunks: 2})
	index := newFakeIndex()
	index.seed(id, "fp-b", "fp-a")

	orchestrator := newTestOrchestrator(registry, index, &fakeEmbedder{}, newFakeAcquirer(), &fakeCatalog{})

	details, err := orchestrator.GetSourceDetails(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSourceDetails failed: %v", err)
	}

	if details.Source.Name != "Docs" || details.TotalChunks != 2 || details.IndexedChunks != 2 {
		t.Errorf("Unexpected details: %+v", details)
	}
	if len(details.Fingerprints) != 2 || details.Fingerprints[0] != "fp-a" {
		t.Errorf("Expected sorted fingerprints, got %v", details.Fingerprints)
	}

	if _, err := orchestrator.GetSourceDetails(context.Background(), "missing-id"); err == nil {
		t.Error("Expected error for an unknown source")
	}
}
