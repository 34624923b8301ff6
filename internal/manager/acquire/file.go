package acquire

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

const strategyFile = "file"

var ErrNoExtractableText = errors.New("no extractable text in file")

// FileStrategy downloads a single file and extracts its text. PDF content is
// extracted page by page; HTML converts to markdown; other text passes
// through.
type FileStrategy struct {
	fetcher *pageFetcher
	logger  zerolog.Logger
}

func NewFileStrategy(httpClient *http.Client) *FileStrategy {
	return &FileStrategy{
		fetcher: newPageFetcher(httpClient),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

// Name returns the strategy identifier recorded on produced documents.
func (s *FileStrategy) Name() string {
	return strategyFile
}

func (s *FileStrategy) TryLoad(ctx context.Context, source *models.Source) ([]models.RawDocument, error) {
	body, contentType, err := s.fetcher.fetch(ctx, source.URL)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", source.URL).Msg("file fetch failed")
		return nil, err
	}

	content, err := ExtractText(body, contentType, source.URL, s.fetcher)
	if err != nil {
		return nil, err
	}

	return []models.RawDocument{{
		Content:        content,
		OriginURL:      source.URL,
		LoaderStrategy: strategyFile,
	}}, nil
}

// ExtractText converts a file body to plain text based on its content type
// and name. Shared with the blob-file sync, which reads bodies from storage
// rather than HTTP.
func ExtractText(body []byte, contentType, name string, fetcher *pageFetcher) (string, error) {
	if isPDF(body, contentType, name) {
		return extractPDFText(body)
	}
	if fetcher == nil {
		fetcher = newPageFetcher(nil)
	}
	return fetcher.toMarkdown(string(body), contentType)
}

// ExtractFileText converts a file body to plain text with a default fetcher.
func ExtractFileText(body []byte, contentType, name string) (string, error) {
	return ExtractText(body, contentType, name, nil)
}

func isPDF(body []byte, contentType, name string) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

func extractPDFText(body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", err
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", err
	}
	if strings.TrimSpace(buf.String()) == "" {
		return "", ErrNoExtractableText
	}

	return buf.String(), nil
}
