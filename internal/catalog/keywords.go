package catalog

import "strings"

// Normalize reduces free text to its significant keyword list: lowercase,
// strip non-alphanumeric runes, split on whitespace, drop tokens of length
// three or shorter. Normalizing an already-normalized list is a no-op.
func Normalize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n':
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	words := fields[:0]
	for _, w := range fields {
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}
