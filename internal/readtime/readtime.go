// Package readtime estimates how long an article takes to read.
package readtime

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// WordsPerMinute is the assumed reading speed.
const WordsPerMinute = 245

var policy = bluemonday.StripTagsPolicy()

// Estimate returns the reading time of an HTML fragment in minutes. Markup
// is stripped first, so tags and attributes do not count as words.
func Estimate(content string) float64 {
	if strings.TrimSpace(content) == "" {
		return 0
	}
	text := html.UnescapeString(policy.Sanitize(content))
	words := len(strings.Fields(text))
	return float64(words) / WordsPerMinute
}
