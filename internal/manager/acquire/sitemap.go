package acquire

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const strategySitemap = "sitemap"

var ErrNoSitemapURLs = errors.New("sitemap contains no page URLs")

// SitemapStrategy discovers page URLs through the source's sitemap and loads
// each page. Nested sitemap indexes are followed up to the source's max
// depth; page count is bounded by max pages.
type SitemapStrategy struct {
	fetcher *pageFetcher
	logger  zerolog.Logger
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

func NewSitemapStrategy(httpClient *http.Client) *SitemapStrategy {
	return &SitemapStrategy{
		fetcher: newPageFetcher(httpClient),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

// Name returns the strategy identifier recorded on produced documents.
func (s *SitemapStrategy) Name() string {
	return strategySitemap
}

func (s *SitemapStrategy) TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error) {
	sitemapURL := source.URL
	if !strings.HasSuffix(strings.ToLower(sitemapURL), ".xml") {
		sitemapURL = strings.TrimRight(sitemapURL, "/") + "/sitemap.xml"
	}

	maxDepth := source.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	pageURLs, err := s.collectPageURLs(ctx, sitemapURL, source, maxDepth)
	if err != nil {
		return nil, err
	}
	if len(pageURLs) == 0 {
		return nil, ErrNoSitemapURLs
	}

	var documents []models.RawDocument
	for _, pageURL := range pageURLs {
		if source.MaxPages > 0 && len(documents) >= source.MaxPages {
			break
		}

		content, err := s.fetcher.fetchMarkdown(ctx, pageURL)
		if err != nil {
			// One unreachable page does not fail the sitemap crawl
			s.logger.Warn().Err(err).Str("url", pageURL).Msg("sitemap page fetch failed")
			continue
		}

		documents = append(documents, models.RawDocument{
			Content:        content,
			OriginURL:      pageURL,
			LoaderStrategy: strategySitemap,
		})
	}

	s.logger.Debug().
		Str("sitemap", sitemapURL).
		Int("pages", len(documents)).
		Msg("sitemap crawl completed")
	return documents, nil
}

// collectPageURLs parses a sitemap, following nested indexes depth-first.
func (s *SitemapStrategy) collectPageURLs(
	ctx context.Context,
	sitemapURL string,
	source *models.Source,
	depthLeft int,
) ([]string, error) {
	body, _, err := s.fetcher.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	// A sitemap is either a urlset of pages or an index of child sitemaps
	var urlSet sitemapURLSet
	if err := xml.Unmarshal(body, &urlSet); err == nil && len(urlSet.URLs) > 0 {
		var pageURLs []string
		for _, entry := range urlSet.URLs {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" || !matchesPatterns(loc, source.IncludePatterns, source.ExcludePatterns) {
				continue
			}
			pageURLs = append(pageURLs, loc)
			if source.MaxPages > 0 && len(pageURLs) >= source.MaxPages {
				break
			}
		}
		return pageURLs, nil
	}

	var indexDoc sitemapIndex
	if err := xml.Unmarshal(body, &indexDoc); err != nil {
		return nil, err
	}
	if depthLeft <= 0 {
		return nil, nil
	}

	var pageURLs []string
	for _, child := range indexDoc.Sitemaps {
		loc := strings.TrimSpace(child.Loc)
		if loc == "" {
			continue
		}

		childURLs, err := s.collectPageURLs(ctx, loc, source, depthLeft-1)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", loc).Msg("nested sitemap fetch failed")
			continue
		}
		pageURLs = append(pageURLs, childURLs...)
		if source.MaxPages > 0 && len(pageURLs) >= source.MaxPages {
			return pageURLs[:source.MaxPages], nil
		}
	}

	return pageURLs, nil
}
