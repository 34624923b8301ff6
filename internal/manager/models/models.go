package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AcquisitionMode selects the primary content acquisition strategy for a source.
type AcquisitionMode string

const (
	ModeSingle    AcquisitionMode = "single"
	ModeSitemap   AcquisitionMode = "sitemap"
	ModeRecursive AcquisitionMode = "recursive"
	ModeFile      AcquisitionMode = "file"
)

// Source is a registered content origin with crawl configuration and the
// derived state of its last successful sync.
type Source struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	Name            string          `json:"name"`
	AcquisitionMode AcquisitionMode `json:"acquisition_mode"`
	MaxPages        int             `json:"max_pages"`
	MaxDepth        int             `json:"max_depth"`
	IncludePatterns []string        `json:"include_patterns"`
	ExcludePatterns []string        `json:"exclude_patterns"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	ContentOrigin   string          `json:"content_origin"`
	SectionURLs     []string        `json:"section_urls"`
	TotalChunks     int             `json:"total_chunks"`
	LastSyncedAt    *time.Time      `json:"last_synced_at"`
}

// RawDocument is one unit of acquired content before chunking.
type RawDocument struct {
	Content        string `json:"content"`
	OriginURL      string `json:"origin_url"`
	LoaderStrategy string `json:"loader_strategy"`
}

// Chunk is a bounded slice of a RawDocument ready for embedding and indexing.
type Chunk struct {
	Content     string            `json:"content"`
	SourceID    string            `json:"source_id"`
	SectionURL  string            `json:"section_url"`
	Fingerprint string            `json:"fingerprint"`
	Ordinal     int               `json:"ordinal"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// VectorRecord is the unit stored in the remote vector index. The key is the
// chunk fingerprint, so re-upserting unchanged content is a no-op.
type VectorRecord struct {
	Key       string            `json:"key"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata"`
}

// SearchResult is one similarity-search hit. Score is a similarity, higher is
// more relevant.
type SearchResult struct {
	Content    string            `json:"content"`
	SourceURL  string            `json:"source_url"`
	SectionURL string            `json:"section_url"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata"`
}

// SyncFailure records one item that failed during a batch operation.
type SyncFailure struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// UpsertOutcome is the result of a single-source sync.
type UpsertOutcome struct {
	SourceID       string        `json:"source_id"`
	IsNewSource    bool          `json:"is_new_source"`
	DocumentsAdded int           `json:"documents_added"`
	Message        string        `json:"message"`
	Elapsed        time.Duration `json:"elapsed"`
}

// ReconcileOutcome is the result of diffing the external catalog against the
// registry.
type ReconcileOutcome struct {
	Created                  int           `json:"created"`
	Updated                  int           `json:"updated"`
	Deleted                  int           `json:"deleted"`
	Unchanged                int           `json:"unchanged"`
	Errored                  int           `json:"errored"`
	ChunksAdded              int           `json:"chunks_added"`
	Failures                 []SyncFailure `json:"failures"`
	ExternalSourcesAvailable bool          `json:"external_sources_available"`
	DeletionsSkipped         bool          `json:"deletions_skipped"`
	Elapsed                  time.Duration `json:"elapsed"`
}

// DeleteOutcome reports a delete-by-source operation against the vector
// index, including partial-failure counts.
type DeleteOutcome struct {
	Success        bool     `json:"success"`
	VectorsFound   int      `json:"vectors_found"`
	VectorsDeleted int      `json:"vectors_deleted"`
	VectorsFailed  int      `json:"vectors_failed"`
	FailedKeys     []string `json:"failed_keys,omitempty"`
}

// PipelineReport is the outcome of one sub-pipeline in a unified sync run.
type PipelineReport struct {
	Name          string        `json:"name"`
	SourcesSynced int           `json:"sources_synced"`
	ChunksCreated int           `json:"chunks_created"`
	Errors        []SyncFailure `json:"errors,omitempty"`
	Success       bool          `json:"success"`
}

// UnifiedOutcome aggregates the independent sub-pipelines of a full sync.
type UnifiedOutcome struct {
	Pipelines []PipelineReport `json:"pipelines"`
	Success   bool             `json:"success"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// SourceDetails combines a registry row with the live state of its indexed
// chunks.
type SourceDetails struct {
	Source        Source   `json:"source"`
	TotalChunks   int      `json:"total_chunks"`
	IndexedChunks int      `json:"indexed_chunks"`
	Fingerprints  []string `json:"fingerprints,omitempty"`
}

// CatalogSource is one source descriptor from the external catalog API.
type CatalogSource struct {
	Name            string   `json:"name"`
	URL             string   `json:"url"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxPages        int      `json:"max_pages"`
	RecursionDepth  int      `json:"recursion_depth"`
	Enabled         bool     `json:"enabled"`
}

// BlobObject describes one object in remote blob storage.
type BlobObject struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NormalizeURL canonicalizes a URL so that trivially different spellings of
// the same location produce the same source identity: lowercase scheme and
// host, default ports and fragments dropped, trailing slash stripped.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String()
}

// SourceIDForURL derives the stable source ID for a URL. The same normalized
// URL always yields the same ID.
func SourceIDForURL(raw string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeURL(raw))).String()
}

// FingerprintContent computes the deterministic content fingerprint used for
// change detection. Not a security boundary.
func FingerprintContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
