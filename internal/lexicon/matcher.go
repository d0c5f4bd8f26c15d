package lexicon

import (
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// gluedDiscount scales matches found inside a run of words typed without
// spaces.
const gluedDiscount = 0.9

// minGluedRunes is the shortest single-word term searched for inside glued
// words. Shorter terms occur by accident too often.
const minGluedRunes = 5

// Matcher turns report text into signals using a rule table. It is safe for
// concurrent use.
type Matcher struct {
	table *Table
}

// NewMatcher returns a matcher over t.
func NewMatcher(t *Table) *Matcher {
	return &Matcher{table: t}
}

// Table returns the rule table the matcher was built with.
func (m *Matcher) Table() *Table { return m.table }

// text is the prepared form of one report.
type text struct {
	words   []string
	tokens  [][]rune
	compact string
	// starts and ends are the byte offsets of each token in compact.
	starts []int
	ends   []int
}

func prepare(s string) (text, bool) {
	norm := Normalize(s)
	if norm == "" {
		return text{}, false
	}
	words := strings.Fields(norm)
	compact, starts := compactIndex(words)
	tokens := make([][]rune, len(words))
	ends := make([]int, len(words))
	for i, w := range words {
		tokens[i] = []rune(w)
		ends[i] = starts[i] + len(w)
	}
	return text{words: words, tokens: tokens, compact: compact, starts: starts, ends: ends}, true
}

// Match returns every signal found in s. Signals come out in a fixed order:
// type vocabulary and its escalation terms in table order, then global
// urgency terms, then locations. Empty text yields nil.
func (m *Matcher) Match(s string) []domain.Signal {
	in, ok := prepare(s)
	if !ok {
		return nil
	}

	var out []domain.Signal
	emit := func(cat domain.Category, tag, scope string, terms []Term) {
		for i := range terms {
			if strength, ok := in.match(&terms[i]); ok {
				out = append(out, domain.Signal{
					Category: cat,
					Tag:      tag,
					Term:     terms[i].Text,
					Strength: strength,
					Scope:    scope,
				})
			}
		}
	}

	for _, r := range m.table.Types {
		emit(domain.CategoryType, r.Tag, "", r.Terms)
	}
	for _, r := range m.table.Types {
		emit(domain.CategoryUrgency, string(domain.UrgencyCritical), r.Tag, r.Escalation.Critical)
		emit(domain.CategoryUrgency, string(domain.UrgencyHigh), r.Tag, r.Escalation.High)
	}
	emit(domain.CategoryUrgency, string(domain.UrgencyCritical), "", m.table.Urgency.Critical)
	emit(domain.CategoryUrgency, string(domain.UrgencyHigh), "", m.table.Urgency.High)
	for _, l := range m.table.Locations {
		emit(domain.CategoryLocation, l.Name, "", l.Aliases)
	}
	return out
}

// match returns the best strength of term in the text.
func (in text) match(t *Term) (float64, bool) {
	if t.multiword {
		return in.matchPhrase(t)
	}

	first, _ := utf8.DecodeRuneInString(t.compact)
	limit := maxEdits(t.runes)
	best := -1
	for i, tok := range in.tokens {
		// A typo in the first letter is rare; requiring it to agree keeps
		// short common words from matching by accident.
		if tok[0] != first {
			continue
		}
		d, ok := withinEdits(in.words[i], t.compact, len(tok), t.runes, limit)
		if ok && (best < 0 || d < best) {
			best = d
			if d == 0 {
				break
			}
		}
	}
	if best >= 0 {
		return strength(t, best, 1), true
	}

	if t.runes >= minGluedRunes {
		for _, at := range in.starts {
			if strings.HasPrefix(in.compact[at:], t.compact) {
				return strength(t, 0, gluedDiscount), true
			}
		}
	}
	return 0, false
}

// matchPhrase finds a multi-word term in the compact text. The phrase must
// start where a token starts and end where a token ends. A phrase typed
// entirely inside one token ("stuckonroofnow") may end mid-token and counts
// as glued.
func (in text) matchPhrase(t *Term) (float64, bool) {
	glued := false
	for i, at := range in.starts {
		if !strings.HasPrefix(in.compact[at:], t.compact) {
			continue
		}
		end := at + len(t.compact)
		if slices.Contains(in.ends[i:], end) {
			return strength(t, 0, 1), true
		}
		if end <= in.ends[i] {
			glued = true
		}
	}
	if glued {
		return strength(t, 0, gluedDiscount), true
	}
	return 0, false
}

func strength(t *Term, dist int, discount float64) float64 {
	n := float64(t.runes)
	lengthFactor := math.Min(1, 0.6+0.05*n)
	s := lengthFactor * (1 - float64(dist)/n) * t.Weight * discount
	s = math.Max(0, math.Min(1, s))
	return math.Round(s*1e4) / 1e4
}
