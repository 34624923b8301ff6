package db

import (
	"database/sql"
	"errors"
	"os"
	"strings"

	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
	"github.com/tursodatabase/libsql-client-go/libsql"
)

var (
	ErrDatabaseURLRequired = errors.New("TURSO_DATABASE_URL environment variable is required")
	ErrAuthTokenRequired   = errors.New("TURSO_AUTH_TOKEN environment variable is required")
)

// registrySchema is the source registry schema. Executed on every connection
// so a missing backing store recovers as an empty registry instead of an error.
const registrySchema = `
CREATE TABLE IF NOT EXISTS sources (
    id               TEXT PRIMARY KEY,
    url              TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    acquisition_mode TEXT NOT NULL DEFAULT 'single',
    max_pages        INTEGER NOT NULL DEFAULT 1,
    max_depth        INTEGER NOT NULL DEFAULT 0,
    include_patterns TEXT NOT NULL DEFAULT '[]',
    exclude_patterns TEXT NOT NULL DEFAULT '[]',
    category         TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    content_origin   TEXT NOT NULL DEFAULT '',
    section_urls     TEXT NOT NULL DEFAULT '[]',
    total_chunks     INTEGER NOT NULL DEFAULT 0,
    last_synced_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_sources_url ON sources(url)
`

type DB struct {
	*sql.DB
}

func NewConnection() (*DB, error) {
	dbURL := os.Getenv("TURSO_DATABASE_URL")
	logger := util.NewLogger(zerolog.ErrorLevel)
	if strings.EqualFold(dbURL, "") {
		logger.Error().Msg("TURSO_DATABASE_URL env variable not set")
		return nil, ErrDatabaseURLRequired
	}

	authToken := os.Getenv("TURSO_AUTH_TOKEN")
	if strings.EqualFold(authToken, "") {
		logger.Error().Msg("TURSO_AUTH_TOKEN env variable not set")
		return nil, ErrAuthTokenRequired
	}

	connector, err := libsql.NewConnector(dbURL, libsql.WithAuthToken(authToken))
	if err != nil {
		logger.Err(err).Msg("failed to create connector")
		return nil, err
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		logger.Err(err).Msg("failed to ping database")
		return nil, err
	}

	wrapped := &DB{DB: db}
	if err := wrapped.EnsureSchema(); err != nil {
		logger.Err(err).Msg("failed to ensure registry schema")
		return nil, err
	}

	return wrapped, nil
}

// EnsureSchema creates the registry tables when they do not exist yet.
func (db *DB) EnsureSchema() error {
	for _, stmt := range strings.Split(registrySchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
