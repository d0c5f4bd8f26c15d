package lexicon

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, turns every rune that is not a letter or digit
// into a space, and collapses whitespace runs.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}

// Compact removes all spaces from normalized text. Citizens often type words
// without spaces ("stuckonroof"); phrases are matched against this form.
func Compact(normalized string) string {
	return strings.ReplaceAll(normalized, " ", "")
}

// compactIndex joins tokens without separators and records the byte offset
// at which each token starts.
func compactIndex(tokens []string) (string, []int) {
	var b strings.Builder
	starts := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		starts = append(starts, b.Len())
		b.WriteString(tok)
	}
	return b.String(), starts
}
