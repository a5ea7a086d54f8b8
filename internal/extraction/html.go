package extraction

import (
	"html"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// blockBoundary matches tags that end a visual line in exported HTML sheets.
var blockBoundary = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/tr|/h[1-6]|/title)\b[^>]*>`)

// htmlText flattens an HTML document to plain text, keeping one line per block element.
func htmlText(policy *bluemonday.Policy, content string) string {
	return html.UnescapeString(policy.Sanitize(blockBoundary.ReplaceAllString(content, "\n")))
}
