// Package sanitize strips markup from user supplied free text before it is
// persisted or echoed back to other users.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text removes every HTML element and collapses surrounding whitespace.
func Text(s string) string {
	if s == "" {
		return ""
	}
	cleaned := strict.Sanitize(s)
	// StrictPolicy escapes entities; stored values are plain text.
	cleaned = html.UnescapeString(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}
