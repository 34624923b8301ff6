package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/interfaces"
	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/rs/zerolog"
)

// Pipeline produces the best-effort set of raw documents for a source. The
// primary strategy is chosen from the source's acquisition mode and URL
// shape; output failing the quality gates retries through the browser-render
// fallback against the primary URL only. Total failure is reported as an
// empty document list plus a message, never an error.
type Pipeline struct {
	single    interfaces.AcquisitionStrategy
	sitemap   interfaces.AcquisitionStrategy
	recursive interfaces.AcquisitionStrategy
	file      interfaces.AcquisitionStrategy
	fallback  interfaces.AcquisitionStrategy
	logger    zerolog.Logger
}

// NewPipeline builds the strategy chain. The browser fallback is optional:
// without a configured rendering service the pipeline simply cannot recover
// from quality-gate rejections.
func NewPipeline(httpClient *http.Client) *Pipeline {
	logger := util.NewLogger(zerolog.ErrorLevel)

	pipeline := &Pipeline{
		single:    NewSinglePageStrategy(httpClient),
		sitemap:   NewSitemapStrategy(httpClient),
		recursive: NewRecursiveStrategy(httpClient),
		file:      NewFileStrategy(httpClient),
		logger:    logger,
	}

	browser, err := NewBrowserStrategy(httpClient)
	if err != nil {
		logger.Warn().Err(err).Msg("browser rendering fallback unavailable")
	} else {
		pipeline.fallback = browser
	}

	return pipeline
}

// NewPipelineWithStrategies wires explicit strategies, used by tests and by
// callers that construct their own chain.
func NewPipelineWithStrategies(single, sitemap, recursive, file, fallback interfaces.AcquisitionStrategy) *Pipeline {
	return &Pipeline{
		single:    single,
		sitemap:   sitemap,
		recursive: recursive,
		file:      file,
		fallback:  fallback,
		logger:    util.NewLogger(zerolog.ErrorLevel),
	}
}

// Acquire runs the primary strategy, gates its output, retries through the
// fallback when gated out, and returns the filtered documents. The message
// is empty on success and descriptive when zero documents were produced.
func (p *Pipeline) Acquire(ctx context.Context, source *models.Source) ([]models.RawDocument, string) {
	primary := p.selectStrategy(source)

	documents, err := primary.TryLoad(ctx, source)
	rejection := p.gate(documents, err)

	if rejection != "" {
		p.logger.Info().
			Str("url", source.URL).
			Str("strategy", primary.Name()).
			Str("reason", rejection).
			Msg("primary strategy rejected, trying fallback")

		if p.fallback == nil {
			if err != nil {
				return nil, fmt.Sprintf("%s failed: %v (no rendering fallback configured)", primary.Name(), err)
			}
			return nil, fmt.Sprintf("%s rejected: %s (no rendering fallback configured)", primary.Name(), rejection)
		}

		fallbackDocs, fallbackErr := p.fallback.TryLoad(ctx, source)
		fallbackRejection := p.gate(fallbackDocs, fallbackErr)
		if fallbackRejection != "" {
			return nil, fmt.Sprintf("%s rejected (%s); %s rejected (%s)",
				primary.Name(), rejection, p.fallback.Name(), fallbackRejection)
		}
		documents = fallbackDocs
	}

	filtered := filterDocuments(documents, source.MaxPages)
	if len(filtered) == 0 {
		return nil, "all acquired documents were filtered out as non-content"
	}

	return filtered, ""
}

// selectStrategy picks the primary strategy from the acquisition mode; a
// .pdf suffix forces the file strategy regardless of configured mode.
func (p *Pipeline) selectStrategy(source *models.Source) interfaces.AcquisitionStrategy {
	if parsed, err := url.Parse(source.URL); err == nil {
		if strings.EqualFold(path.Ext(parsed.Path), ".pdf") {
			return p.file
		}
	}

	switch source.AcquisitionMode {
	case models.ModeSitemap:
		return p.sitemap
	case models.ModeRecursive:
		return p.recursive
	case models.ModeFile:
		return p.file
	default:
		return p.single
	}
}

// gate evaluates acquisition output. Returns an empty string when accepted,
// otherwise the rejection reason. Quality rejections are not errors.
func (p *Pipeline) gate(documents []models.RawDocument, err error) string {
	if err != nil {
		return err.Error()
	}
	if len(documents) == 0 {
		return "no documents produced"
	}

	jsGated := 0
	for _, doc := range documents {
		if isCorrupted(doc.Content) {
			return "corrupted content detected"
		}
		if needsJavaScript(doc.Content) {
			jsGated++
		}
	}
	if jsGated == len(documents) {
		return "content requires script execution"
	}

	return ""
}
