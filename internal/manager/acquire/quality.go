package acquire

import (
	"strings"
	"unicode/utf8"
)

const (
	// Window inspected for corruption, in bytes.
	corruptionWindow = 4096
	// Fraction of control/replacement characters above which content is
	// treated as corrupted binary rather than decoded text.
	corruptionThreshold = 0.005
	// Pages shorter than this are suspected of requiring script execution.
	minRenderedLength = 200
)

// jsRequiredMarkers are phrases emitted by client-rendered pages when
// scripts are disabled.
var jsRequiredMarkers = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
	"requires javascript",
	"please turn on javascript",
	"you need to enable javascript to run this app",
}

// isCorrupted reports whether content contains control or replacement
// characters inconsistent with decoded text.
func isCorrupted(content string) bool {
	if content == "" {
		return false
	}

	window := content
	if len(window) > corruptionWindow {
		window = window[:corruptionWindow]
	}

	suspicious := 0
	total := 0
	for _, r := range window {
		total++
		if r == utf8.RuneError || r == 0 {
			suspicious++
			continue
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			suspicious++
		}
	}
	if total == 0 {
		return false
	}

	return float64(suspicious)/float64(total) > corruptionThreshold
}

// needsJavaScript reports whether content looks like the shell of a
// client-rendered page: near-empty, or carrying an explicit script-required
// marker.
func needsJavaScript(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minRenderedLength {
		return true
	}

	lowered := strings.ToLower(trimmed)
	for _, marker := range jsRequiredMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
