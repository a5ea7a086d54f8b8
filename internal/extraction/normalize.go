package extraction

import "strings"

// Normalize collapses every whitespace run, line breaks included, into a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
