package acquire

import (
	"net/url"

	"github.com/bmatcuk/doublestar/v4"
)

// matchesPatterns applies a source's include/exclude path patterns to a URL.
// Exclude patterns always reject; when include patterns are present, at
// least one must match.
func matchesPatterns(rawURL string, includePatterns, excludePatterns []string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range excludePatterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return false
		}
	}

	if len(includePatterns) == 0 {
		return true
	}
	for _, pattern := range includePatterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
