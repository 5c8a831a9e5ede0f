package validators

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var stripTags = bluemonday.StrictPolicy()

// stripPasses bounds how many entity layers SanitizeText decodes.
const stripPasses = 4

// SanitizeString trims input and cuts it to at most maxLen characters.
// A maxLen of zero disables the cut.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 || utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimSpace(string(runes[:maxLen]))
}

// SanitizeText strips markup from user supplied prose and returns plain text.
// Entity-encoded markup is decoded and stripped again until the text is
// stable, so "&lt;script&gt;" cannot come back out as a tag.
func SanitizeText(input string, maxLen int) string {
	current := input
	for pass := 0; pass < stripPasses; pass++ {
		cleaned := html.UnescapeString(stripTags.Sanitize(current))
		if cleaned == current {
			return SanitizeString(cleaned, maxLen)
		}
		current = cleaned
	}
	return SanitizeString(stripTags.Sanitize(current), maxLen)
}

func SanitizeOptional(input *string, maxLen int) *string {
	if input == nil {
		return nil
	}
	cleaned := SanitizeText(*input, maxLen)
	return &cleaned
}
