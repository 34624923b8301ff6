package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	listPageSize       = 100
)

var (
	ErrStoreURLRequired = errors.New("BLOB_STORE_URL environment variable is required")
	ErrBucketRequired   = errors.New("BLOB_STORE_BUCKET environment variable is required")
	ErrObjectNotFound   = errors.New("object not found")
	ErrRequestFailed    = errors.New("blob store request failed")
)

// Client talks to the remote blob storage service: list-by-prefix, get, put
// and delete over a bucket/key REST surface.
type Client struct {
	apiURL     string
	apiKey     string
	bucket     string
	httpClient *http.Client
	logger     zerolog.Logger
}

type listObjectsRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listedObject struct {
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// NewClient creates a blob storage client from environment configuration.
func NewClient() (*Client, error) {
	return NewClientWithHTTP(nil, "")
}

// NewClientWithHTTP creates a blob storage client with a custom HTTP client
// and API URL.
func NewClientWithHTTP(httpClient *http.Client, apiURL string) (*Client, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if apiURL == "" {
		apiURL = os.Getenv("BLOB_STORE_URL")
		if strings.EqualFold(apiURL, "") {
			logger.Error().Msg("BLOB_STORE_URL env variable not set")
			return nil, ErrStoreURLRequired
		}
	}

	bucket := os.Getenv("BLOB_STORE_BUCKET")
	if strings.EqualFold(bucket, "") {
		logger.Error().Msg("BLOB_STORE_BUCKET env variable not set")
		return nil, ErrBucketRequired
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     os.Getenv("BLOB_STORE_KEY"),
		bucket:     bucket,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListObjects enumerates objects under a prefix, paging until the service
// returns a short page.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]models.BlobObject, error) {
	var objects []models.BlobObject
	offset := 0

	for {
		request := listObjectsRequest{Prefix: prefix, Limit: listPageSize, Offset: offset}
		requestBody, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}

		endpoint := fmt.Sprintf("%s/object/list/%s", c.apiURL, c.bucket)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(requestBody))
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("prefix", prefix).Msg("Failed to list objects")
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			c.logger.Error().Int("status_code", resp.StatusCode).Msg("List objects request failed")
			return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
		}

		var page []listedObject
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, item := range page {
			object := models.BlobObject{Key: item.Name, Size: item.Metadata.Size}
			if t, err := time.Parse(time.RFC3339, item.UpdatedAt); err == nil {
				object.LastModified = t
			}
			objects = append(objects, object)
		}

		if len(page) < listPageSize {
			return objects, nil
		}
		offset += listPageSize
	}
}

// GetObject downloads one object's content.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to get object")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status_code", resp.StatusCode).Str("key", key).Msg("Get object request failed")
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// PutObject uploads an object, replacing any existing content at the key.
func (c *Client) PutObject(ctx context.Context, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to put object")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status_code", resp.StatusCode).Str("key", key).Msg("Put object request failed")
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}

// DeleteObject removes an object. Deleting a missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to delete object")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		c.logger.Error().Int("status_code", resp.StatusCode).Str("key", key).Msg("Delete object request failed")
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/object/%s/%s", c.apiURL, c.bucket, url.PathEscape(key))
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
}
