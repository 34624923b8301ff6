package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const (
	defaultPerPage     = 100
	defaultHTTPTimeout = 30 * time.Second
	// Safety limit so a misbehaving catalog cannot page forever.
	maxPages = 1000
)

var (
	ErrCatalogURLRequired = errors.New("CATALOG_API_URL environment variable is required")
	ErrCatalogUnavailable = errors.New("external catalog unavailable")
)

// Client consumes the external catalog API page-by-page until all pages are
// retrieved.
type Client struct {
	apiURL     string
	apiKey     string
	perPage    int
	httpClient *http.Client
	logger     zerolog.Logger
}

type sourcesPage struct {
	Sources []models.CatalogSource `json:"sources"`
	HasMore bool                   `json:"has_more"`
}

// NewClient creates a catalog client from environment configuration.
func NewClient() (*Client, error) {
	return NewClientWithHTTP(nil, "")
}

// NewClientWithHTTP creates a catalog client with a custom HTTP client and
// API URL.
func NewClientWithHTTP(httpClient *http.Client, apiURL string) (*Client, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if apiURL == "" {
		apiURL = os.Getenv("CATALOG_API_URL")
		if strings.EqualFold(apiURL, "") {
			logger.Error().Msg("CATALOG_API_URL env variable not set")
			return nil, ErrCatalogURLRequired
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     os.Getenv("CATALOG_API_KEY"),
		perPage:    defaultPerPage,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListSources retrieves every source descriptor from the catalog. Any
// transport or decode failure is reported as catalog unavailability so the
// caller can skip deletions.
func (c *Client) ListSources(ctx context.Context) ([]models.CatalogSource, error) {
	var sources []models.CatalogSource

	for page := 1; page <= maxPages; page++ {
		url := fmt.Sprintf("%s/api/sources?page=%d&per_page=%d", c.apiURL, page, c.perPage)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Int("page", page).Msg("Catalog request failed")
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			c.logger.Error().Int("status_code", resp.StatusCode).Int("page", page).Msg("Catalog returned error status")
			return nil, fmt.Errorf("%w: status %d", ErrCatalogUnavailable, resp.StatusCode)
		}

		var result sourcesPage
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			c.logger.Error().Err(err).Int("page", page).Msg("Failed to decode catalog page")
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}

		sources = append(sources, result.Sources...)

		if !result.HasMore {
			break
		}
	}

	c.logger.Debug().Int("sources", len(sources)).Msg("Retrieved catalog sources")
	return sources, nil
}
