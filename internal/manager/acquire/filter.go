package acquire

import (
	"net/url"
	"path"
	"strings"

	"github.com/knowledgeforge/kbsync/internal/manager/models"
)

// excludedSegments are known non-content path segments: admin surfaces,
// feeds, commerce and auth pages.
var excludedSegments = map[string]struct{}{
	"wp-admin": {}, "wp-login.php": {}, "wp-json": {}, "xmlrpc.php": {},
	"feed": {}, "rss": {}, "atom": {},
	"tag": {}, "tags": {},
	"cart": {}, "checkout": {},
	"login": {}, "logout": {}, "signup": {}, "register": {},
	"search": {},
}

// excludedExtensions are static-asset and archive suffixes that never carry
// indexable text.
var excludedExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".webp": {}, ".avif": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".mp3": {}, ".mp4": {}, ".webm": {}, ".mov": {}, ".avi": {},
	".exe": {}, ".dmg": {}, ".iso": {},
}

// isExcludedURL reports whether a URL matches known non-content patterns.
func isExcludedURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return true
	}

	lowered := strings.ToLower(parsed.Path)

	if strings.HasSuffix(lowered, "sitemap.xml") || strings.HasSuffix(lowered, "sitemap_index.xml") ||
		strings.HasSuffix(lowered, "robots.txt") {
		return true
	}

	if ext := strings.ToLower(path.Ext(lowered)); ext != "" {
		if _, excluded := excludedExtensions[ext]; excluded {
			return true
		}
	}

	for _, segment := range strings.Split(lowered, "/") {
		if _, excluded := excludedSegments[segment]; excluded {
			return true
		}
	}

	return false
}

// filterDocuments drops documents whose origin URL matches the exclusion
// patterns and caps the result at maxPages.
func filterDocuments(documents []models.RawDocument, maxPages int) []models.RawDocument {
	var kept []models.RawDocument
	for _, doc := range documents {
		if isExcludedURL(doc.OriginURL) {
			continue
		}
		kept = append(kept, doc)
		if maxPages > 0 && len(kept) >= maxPages {
			break
		}
	}
	return kept
}
