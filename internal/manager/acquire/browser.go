package acquire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"
)

const (
	strategyBrowser = "browser-render"
	// Rendering is slow; allow more than a plain fetch.
	renderTimeout = 60 * time.Second
)

var (
	ErrRenderURLRequired = errors.New("RENDER_SERVICE_URL environment variable is required")
	ErrRenderFailed      = errors.New("browser render request failed")
)

// BrowserStrategy asks a remote rendering service to execute the page's
// scripts before extracting text. Used only as the fallback when primary
// output fails the quality gates, and only against the source's primary URL.
type BrowserStrategy struct {
	renderURL         string
	apiKey            string
	httpClient        *http.Client
	markdownConverter *md.Converter
	logger            zerolog.Logger
}

type renderRequest struct {
	URL string `json:"url"`
}

// NewBrowserStrategy creates the rendering fallback from environment
// configuration.
func NewBrowserStrategy(httpClient *http.Client) (*BrowserStrategy, error) {
	return NewBrowserStrategyWithURL(httpClient, "")
}

// NewBrowserStrategyWithURL creates the rendering fallback with an explicit
// service URL.
func NewBrowserStrategyWithURL(httpClient *http.Client, renderURL string) (*BrowserStrategy, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if renderURL == "" {
		renderURL = os.Getenv("RENDER_SERVICE_URL")
		if strings.EqualFold(renderURL, "") {
			logger.Error().Msg("RENDER_SERVICE_URL env variable not set")
			return nil, ErrRenderURLRequired
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: renderTimeout}
	}

	return &BrowserStrategy{
		renderURL:         strings.TrimRight(renderURL, "/"),
		apiKey:            os.Getenv("RENDER_SERVICE_KEY"),
		httpClient:        httpClient,
		markdownConverter: md.NewConverter("", true, nil),
		logger:            logger,
	}, nil
}

// Name returns the strategy identifier recorded on produced documents.
func (s *BrowserStrategy) Name() string {
	return strategyBrowser
}

func (s *BrowserStrategy) TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error) {
	requestBody, err := json.Marshal(renderRequest{URL: source.URL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.renderURL+"/content",
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", source.URL).Msg("render request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status_code", resp.StatusCode).Str("url", source.URL).Msg("render service returned error")
		return nil, fmt.Errorf("%w: status %d", ErrRenderFailed, resp.StatusCode)
	}

	rendered, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	content, err := s.markdownConverter.ConvertString(string(rendered))
	if err != nil {
		return nil, err
	}

	return []models.RawDocument{{
		Content:        content,
		OriginURL:      source.URL,
		LoaderStrategy: strategyBrowser,
	}}, nil
}
