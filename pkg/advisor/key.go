package advisor

import (
	"strconv"
	"strings"
)

// CacheKey derives the cache key for a detection outcome. Disease labels are
// compared case-insensitively with whitespace runs collapsed, so
// "Purple Blotch" and " purple   blotch" at the same confidence share a key.
func CacheKey(disease string, confidence float64) string {
	label := strings.Join(strings.Fields(strings.ToLower(disease)), "_")
	return "ai_" + label + "_" + formatConfidence(confidence)
}

// formatConfidence renders the shortest decimal form: 91, 91.5, 0.25.
// Negative zero renders as 0.
func formatConfidence(c float64) string {
	if c == 0 {
		c = 0
	}
	return strconv.FormatFloat(c, 'f', -1, 64)
}
