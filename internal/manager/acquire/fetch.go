package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/time/rate"
)

const (
	// Per-request timeout for acquisition fetches. A timed-out fetch is a
	// normal strategy failure, not a fatal error.
	defaultFetchTimeout = 20 * time.Second
	// Polite crawl rate against a single origin.
	defaultRequestsPerSecond = 4
	// Responses larger than this are truncated before conversion.
	maxResponseBytes = 8 * 1024 * 1024
)

var (
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrEmptyBody            = errors.New("empty response body")
)

// pageFetcher is the shared HTTP fetch + HTML-to-markdown layer used by the
// crawl strategies. Requests are rate limited per fetcher.
type pageFetcher struct {
	httpClient        *http.Client
	markdownConverter *md.Converter
	limiter           *rate.Limiter
}

func newPageFetcher(httpClient *http.Client) *pageFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &pageFetcher{
		httpClient:        httpClient,
		markdownConverter: md.NewConverter("", true, nil),
		limiter:           rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// fetch retrieves a URL's body and content type.
func (f *pageFetcher) fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "kbsync/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %d for %s", ErrUnexpectedStatusCode, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrEmptyBody, url)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// fetchMarkdown retrieves a page and converts HTML responses to markdown.
// Non-HTML text is returned as-is.
func (f *pageFetcher) fetchMarkdown(ctx context.Context, url string) (string, error) {
	body, contentType, err := f.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return f.toMarkdown(string(body), contentType)
}

// toMarkdown converts HTML to markdown; other text passes through.
func (f *pageFetcher) toMarkdown(body, contentType string) (string, error) {
	if strings.Contains(contentType, "html") || looksLikeHTML(body) {
		converted, err := f.markdownConverter.ConvertString(body)
		if err != nil {
			return "", err
		}
		return converted, nil
	}
	return body, nil
}

func looksLikeHTML(body string) bool {
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
