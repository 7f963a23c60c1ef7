package pipeline

import (
	"strings"
	"unicode"
)

const (
	// EmbedMaxChars caps chunk text sent to the embedding model.
	EmbedMaxChars = 4000
	// QuestionMaxChars caps question text sent to the embedding model.
	QuestionMaxChars = 2000
	// ExcerptMaxChars caps excerpts shown in citations.
	ExcerptMaxChars = 300
)

// Sanitize cleans text before it is sent to a model: NUL and control
// characters (other than newline and tab) become spaces, whitespace runs
// collapse to one space, the result is cut to maxChars runes and trimmed.
// maxChars <= 0 disables the cap. Sanitize never fails and is idempotent.
func Sanitize(text string, maxChars int) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0:
			b.WriteByte(' ')
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if maxChars > 0 {
		if runes := []rune(cleaned); len(runes) > maxChars {
			cleaned = string(runes[:maxChars])
		}
	}
	return strings.TrimSpace(cleaned)
}

// Excerpt returns a short single-line preview of chunk text.
func Excerpt(text string) string {
	ex := Sanitize(text, ExcerptMaxChars)
	return strings.TrimSpace(strings.ReplaceAll(ex, "\n", " "))
}
