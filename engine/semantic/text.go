package semantic

import (
	"regexp"
	"strings"
)

// readable is the allow-list of characters that carry semantic weight for
// embedding: word characters, whitespace, common punctuation, and the
// accented letters of the source corpus. Everything else (emoji,
// pictographs, decorative symbols) is stripped entirely.
var readable = regexp.MustCompile(`[^a-zA-Z0-9_\s.,!?;:àáâäçèéêëîïôöùúûüÿ'-]+`)

var whitespace = regexp.MustCompile(`\s+`)

// CleanText normalizes review text before embedding: newlines become
// spaces, non-readable characters are removed, and whitespace is collapsed.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = readable.ReplaceAllString(text, "")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
