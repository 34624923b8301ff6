package chunkers

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
	"github.com/knowledgeforge/kbsync/pkg/util"
	"github.com/rs/zerolog"

	"github.com/tiktoken-go/tokenizer"
)

var (
	ErrInvalidMaxTokens = errors.New("maxTokens must be positive")
	ErrInvalidOverlap   = errors.New("overlapTokens must be between 0 and maxTokens")
)

const (
	maxTokensDefault     = 512
	overlapTokensDefault = 64
)

// TokenChunker splits raw documents into bounded, overlapping chunks using
// tiktoken token counts, and fingerprints each chunk. Pure: no I/O, and the
// same documents with the same parameters always produce the same chunks.
type TokenChunker struct {
	encoding      tokenizer.Codec
	maxTokens     int
	overlapTokens int
	logger        zerolog.Logger
}

// NewTokenChunker creates a token-based chunker with the given chunk size and
// overlap.
func NewTokenChunker(maxTokens, overlapTokens int) (*TokenChunker, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if maxTokens <= 0 {
		return nil, ErrInvalidMaxTokens
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, ErrInvalidOverlap
	}

	tokenizerName := getTokenizerFromEnv()
	encoding, err := getTokenizerEncoding(tokenizerName)
	if err != nil {
		logger.Error().Err(err).Str("tokenizer", tokenizerName).Msg("failed to get tokenizer")
		return nil, err
	}

	return &TokenChunker{
		encoding:      encoding,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		logger:        logger,
	}, nil
}

// NewDefaultTokenChunker creates a chunker with env-configured or default
// chunk size and overlap.
func NewDefaultTokenChunker() (*TokenChunker, error) {
	return NewTokenChunker(GetDefaultMaxTokens(), GetDefaultOverlapTokens())
}

// GetChunkingStrategy returns the strategy name used by this chunker.
func (t *TokenChunker) GetChunkingStrategy() string {
	return "token"
}

// Split chunks every document and attaches provenance inherited from the
// source. Documents with empty content are skipped. Chunk ordinals are
// global across the source's documents, in input order.
func (t *TokenChunker) Split(documents []models.RawDocument, source *models.Source) ([]models.Chunk, error) {
	var chunks []models.Chunk
	ordinal := 0

	for _, doc := range documents {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}

		pieces, err := t.splitContent(doc.Content)
		if err != nil {
			t.logger.Err(err).Str("origin_url", doc.OriginURL).Msg("failed to chunk document")
			return nil, err
		}

		sectionURL := doc.OriginURL
		if sectionURL == "" {
			sectionURL = source.URL
		}

		for _, piece := range pieces {
			chunk := models.Chunk{
				Content:     piece,
				SourceID:    source.ID,
				SectionURL:  sectionURL,
				Fingerprint: models.FingerprintContent(piece),
				Ordinal:     ordinal,
				Name:        source.Name,
				Category:    source.Category,
				Description: source.Description,
			}

			extra := map[string]string{}
			if source.URL != "" {
				extra["source_url"] = source.URL
			}
			if source.ContentOrigin != "" {
				extra["content_origin"] = source.ContentOrigin
			}
			if sub := SubcategoryForURL(sectionURL); sub != "" {
				extra["subcategory"] = sub
			}
			if len(extra) > 0 {
				chunk.Extra = extra
			}

			chunks = append(chunks, chunk)
			ordinal++
		}
	}

	return chunks, nil
}

// splitContent splits one document body into overlapping token windows.
func (t *TokenChunker) splitContent(content string) ([]string, error) {
	tokens, _, err := t.encoding.Encode(content)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize content")
		return nil, err
	}

	totalTokens := len(tokens)
	if totalTokens <= t.maxTokens {
		return []string{content}, nil
	}

	var pieces []string
	stepSize := t.maxTokens - t.overlapTokens

	for i := 0; i < totalTokens; i += stepSize {
		end := i + t.maxTokens
		if end > totalTokens {
			end = totalTokens
		}

		chunkText, err := t.encoding.Decode(tokens[i:end])
		if err != nil {
			t.logger.Err(err).Msg("failed to decode chunk tokens")
			return nil, err
		}
		pieces = append(pieces, chunkText)

		if end >= totalTokens {
			break
		}
	}

	return pieces, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *TokenChunker) CountTokens(text string) (int, error) {
	tokens, _, err := t.encoding.Encode(text)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize text")
		return 0, err
	}
	return len(tokens), nil
}

// getTokenizerFromEnv returns the tokenizer name from environment or default.
func getTokenizerFromEnv() string {
	tokenizerName := os.Getenv("CHUNKER_TOKENIZER")
	if tokenizerName == "" {
		return "cl100k_base"
	}
	return tokenizerName
}

// getTokenizerEncoding returns the tokenizer encoding for the given name.
func getTokenizerEncoding(name string) (tokenizer.Codec, error) {
	switch strings.ToLower(name) {
	case "cl100k_base":
		return tokenizer.Get(tokenizer.Cl100kBase)
	case "p50k_base":
		return tokenizer.Get(tokenizer.P50kBase)
	case "r50k_base":
		return tokenizer.Get(tokenizer.R50kBase)
	default:
		// Default to cl100k_base for unknown tokenizers
		return tokenizer.Get(tokenizer.Cl100kBase)
	}
}

// getIntFromEnv returns an integer from environment variable or default value.
func getIntFromEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetDefaultMaxTokens returns the default max tokens from environment or default.
func GetDefaultMaxTokens() int {
	return getIntFromEnv("CHUNKER_DEFAULT_MAX_TOKENS", maxTokensDefault)
}

// GetDefaultOverlapTokens returns the default overlap tokens from environment or default.
func GetDefaultOverlapTokens() int {
	return getIntFromEnv("CHUNKER_DEFAULT_OVERLAP_TOKENS", overlapTokensDefault)
}
