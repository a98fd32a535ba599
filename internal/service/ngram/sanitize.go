package ngram

import (
	"strings"
	"unicode"
)

// acceptable reports whether r may appear inside a token
func acceptable(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '\''
}

// isBlank matches the code points up to U+0020 that are trimmed from statements
func isBlank(r rune) bool {
	return r <= ' '
}

// Sanitize trims control characters and spaces from both ends, lowercases
// the text and collapses every run of characters outside [a-z0-9-'] into a
// single space. A trailing run that survives the trim, such as the period of
// "end.", becomes one trailing space.
func Sanitize(text string) string {
	text = strings.TrimFunc(text, isBlank)
	var sb strings.Builder
	sb.Grow(len(text))

	pendingSpace := false
	for _, r := range text {
		r = unicode.ToLower(r)
		if !acceptable(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			pendingSpace = false
		}
		sb.WriteRune(r)
	}
	if pendingSpace {
		sb.WriteByte(' ')
	}
	return sb.String()
}

// words splits sanitized text into its space-delimited words
func words(sanitized string) []string {
	return strings.Fields(sanitized)
}
