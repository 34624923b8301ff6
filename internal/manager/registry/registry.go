package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/db"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

var ErrSourceNotFound = errors.New("source not found")

const sourceColumns = `id, url, name, acquisition_mode, max_pages, max_depth,
	include_patterns, exclude_patterns, category, description, content_origin,
	section_urls, total_chunks, last_synced_at`

// SourceRegistry is the durable store of Source records, backed by libSQL.
// Single-writer; reads reflect the latest committed write.
type SourceRegistry struct {
	db     *db.DB
	logger zerolog.Logger
}

func NewSourceRegistry(database *db.DB) *SourceRegistry {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &SourceRegistry{
		db:     database,
		logger: logger,
	}
}

// LoadAll returns every known source. An empty registry yields an empty slice.
func (r *SourceRegistry) LoadAll(ctx context.Context) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources ORDER BY url`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list sources")
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to scan source")
			return nil, err
		}
		sources = append(sources, *source)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return sources, nil
}

func (r *SourceRegistry) FindByID(ctx context.Context, id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = ?`
	source, err := scanSource(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Str("source_id", id).Msg("Failed to get source")
		return nil, err
	}
	return source, nil
}

// FindByURL looks a source up by its normalized URL.
func (r *SourceRegistry) FindByURL(ctx context.Context, rawURL string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE url = ?`
	source, err := scanSource(r.db.QueryRowContext(ctx, query, models.NormalizeURL(rawURL)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Str("url", rawURL).Msg("Failed to get source by URL")
		return nil, err
	}
	return source, nil
}

// Upsert inserts or replaces a source by ID and stamps last_synced_at.
func (r *SourceRegistry) Upsert(ctx context.Context, source *models.Source) error {
	now := time.Now().UTC()
	source.LastSyncedAt = &now

	include, err := json.Marshal(sliceOrEmpty(source.IncludePatterns))
	if err != nil {
		return err
	}
	exclude, err := json.Marshal(sliceOrEmpty(source.ExcludePatterns))
	if err != nil {
		return err
	}
	sections, err := json.Marshal(sliceOrEmpty(source.SectionURLs))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sources (` + sourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			name = excluded.name,
			acquisition_mode = excluded.acquisition_mode,
			max_pages = excluded.max_pages,
			max_depth = excluded.max_depth,
			include_patterns = excluded.include_patterns,
			exclude_patterns = excluded.exclude_patterns,
			category = excluded.category,
			description = excluded.description,
			content_origin = excluded.content_origin,
			section_urls = excluded.section_urls,
			total_chunks = excluded.total_chunks,
			last_synced_at = excluded.last_synced_at
	`
	_, err = r.db.ExecContext(ctx, query,
		source.ID, models.NormalizeURL(source.URL), source.Name, string(source.AcquisitionMode),
		source.MaxPages, source.MaxDepth, string(include), string(exclude),
		source.Category, source.Description, source.ContentOrigin,
		string(sections), source.TotalChunks, now.Format(time.RFC3339))
	if err != nil {
		r.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to upsert source")
	}
	return err
}

// DeleteByID removes a source and reports whether a row existed.
func (r *SourceRegistry) DeleteByID(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		r.logger.Error().Err(err).Str("source_id", id).Msg("Failed to delete source")
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	var source models.Source
	var mode, include, exclude, sections string
	var lastSynced sql.NullString

	err := row.Scan(&source.ID, &source.URL, &source.Name, &mode,
		&source.MaxPages, &source.MaxDepth, &include, &exclude,
		&source.Category, &source.Description, &source.ContentOrigin,
		&sections, &source.TotalChunks, &lastSynced)
	if err != nil {
		return nil, err
	}

	source.AcquisitionMode = models.AcquisitionMode(mode)
	if err := json.Unmarshal([]byte(include), &source.IncludePatterns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(exclude), &source.ExcludePatterns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sections), &source.SectionURLs); err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		if t, err := time.Parse(time.RFC3339, lastSynced.String); err == nil {
			source.LastSyncedAt = &t
		}
	}

	return &source, nil
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
