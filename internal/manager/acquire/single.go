package acquire

import (
	"context"
	"net/http"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

const strategySinglePage = "single-page"

// SinglePageStrategy loads exactly the source's primary URL.
type SinglePageStrategy struct {
	fetcher *pageFetcher
	logger  zerolog.Logger
}

func NewSinglePageStrategy(httpClient *http.Client) *SinglePageStrategy {
	return &SinglePageStrategy{
		fetcher: newPageFetcher(httpClient),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

// Name returns the strategy identifier recorded on produced documents.
func (s *SinglePageStrategy) Name() string {
	return strategySinglePage
}

func (s *SinglePageStrategy) TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error) {
	content, err := s.fetcher.fetchMarkdown(ctx, source.URL)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", source.URL).Msg("single-page fetch failed")
		return nil, err
	}

	return []models.RawDocument{{
		Content:        content,
		OriginURL:      source.URL,
		LoaderStrategy: strategySinglePage,
	}}, nil
}
