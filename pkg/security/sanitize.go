package security

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	htmlTagsRegex   = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// SanitizeString removes null bytes and control characters from input.
// Newlines and tabs survive so multi-line SMS content stays readable in logs.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return removeControlCharacters(input)
}

// StripHTMLTags removes all HTML tags from input
func StripHTMLTags(input string) string {
	return htmlTagsRegex.ReplaceAllString(input, "")
}

// NormalizeWhitespace collapses runs of whitespace into single spaces
func NormalizeWhitespace(input string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(input, " "))
}

// TruncateString truncates a string to a maximum length
func TruncateString(input string, maxLength int) string {
	if len(input) <= maxLength {
		return input
	}
	return input[:maxLength]
}

func removeControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
