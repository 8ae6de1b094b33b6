package util

import "strings"

// TruncateString shortens s to maxRunes runes, appending "..." when cut.
func TruncateString(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// CollapseWhitespace replaces every whitespace run with a single space and
// trims the ends. Titles and comments use it before they reach a log line.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
