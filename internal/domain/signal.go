package domain

// Category groups matcher signals.
type Category string

const (
	CategoryType     Category = "TYPE"
	CategoryUrgency  Category = "URGENCY"
	CategoryLocation Category = "LOCATION"
)

// Signal is one vocabulary hit produced by the lexicon matcher.
type Signal struct {
	Category Category
	// Tag is the canonical value: a disaster type, an urgency tier, or a
	// location name.
	Tag string
	// Term is the vocabulary entry that matched.
	Term string
	// Strength is the match quality in [0,1].
	Strength float64
	// Scope restricts an urgency signal to one disaster type. Empty means
	// the signal applies to every type.
	Scope string
}
