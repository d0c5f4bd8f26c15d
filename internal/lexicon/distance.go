package lexicon

import "github.com/agnivade/levenshtein"

// Distance returns the Levenshtein edit distance between a and b, counted in
// runes.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// withinEdits returns the distance between a and b when it is at most limit.
// na and nb are the rune lengths; pairs whose lengths alone differ by more
// than limit are rejected without computing the distance.
func withinEdits(a, b string, na, nb, limit int) (int, bool) {
	if diff := na - nb; diff > limit || -diff > limit {
		return 0, false
	}
	d := Distance(a, b)
	return d, d <= limit
}

// maxEdits is the number of edits a token may differ from a single-word term
// of n runes and still match. Short words must match exactly.
func maxEdits(n int) int {
	switch {
	case n <= 5:
		return 0
	case n <= 8:
		return 1
	default:
		return 2
	}
}
