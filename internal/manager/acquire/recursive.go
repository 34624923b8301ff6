package acquire

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const strategyRecursive = "recursive-crawl"

// RecursiveStrategy crawls same-host links breadth-first from the source's
// primary URL, bounded by max depth and max pages.
type RecursiveStrategy struct {
	fetcher *pageFetcher
	logger  zerolog.Logger
}

type crawlTarget struct {
	url   string
	depth int
}

func NewRecursiveStrategy(httpClient *http.Client) *RecursiveStrategy {
	return &RecursiveStrategy{
		fetcher: newPageFetcher(httpClient),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

// Name returns the strategy identifier recorded on produced documents.
func (s *RecursiveStrategy) Name() string {
	return strategyRecursive
}

func (s *RecursiveStrategy) TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error) {
	root, err := url.Parse(source.URL)
	if err != nil {
		return nil, err
	}

	maxPages := source.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	maxDepth := source.MaxDepth
	if maxDepth < 0 {
		maxDepth = 0
	}

	queue := []crawlTarget{{url: models.NormalizeURL(source.URL), depth: 0}}
	visited := map[string]struct{}{queue[0].url: {}}

	var documents []models.RawDocument
	var firstErr error

	for len(queue) > 0 && len(documents) < maxPages {
		target := queue[0]
		queue = queue[1:]

		body, contentType, err := s.fetcher.fetch(ctx, target.url)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", target.url).Msg("crawl fetch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		content, err := s.fetcher.toMarkdown(string(body), contentType)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", target.url).Msg("markdown conversion failed")
			continue
		}

		documents = append(documents, models.RawDocument{
			Content:        content,
			OriginURL:      target.url,
			LoaderStrategy: strategyRecursive,
		})

		if target.depth >= maxDepth {
			continue
		}

		for _, link := range extractLinks(body, target.url) {
			if _, seen := visited[link]; seen {
				continue
			}

			parsed, err := url.Parse(link)
			if err != nil || parsed.Host != root.Host {
				continue
			}
			if isExcludedURL(link) || !matchesPatterns(link, source.IncludePatterns, source.ExcludePatterns) {
				continue
			}

			visited[link] = struct{}{}
			queue = append(queue, crawlTarget{url: link, depth: target.depth + 1})
		}
	}

	// Report an error only when nothing at all was retrieved
	if len(documents) == 0 && firstErr != nil {
		return nil, firstErr
	}

	s.logger.Debug().
		Str("url", source.URL).
		Int("pages", len(documents)).
		Msg("recursive crawl completed")
	return documents, nil
}

// extractLinks pulls absolute same-document-scheme links out of an HTML page.
func extractLinks(body []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := map[string]struct{}{}

	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, ok := selection.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""

		normalized := models.NormalizeURL(resolved.String())
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})

	return links
}
