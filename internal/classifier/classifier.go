// Package classifier decides whether a report describes a disaster and, if so,
// what kind, how urgent, and where.
package classifier

import (
	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/lexicon"
)

// Classifier judges report text. Implementations must be deterministic and
// must not fail: text they cannot make sense of is simply not a disaster.
type Classifier interface {
	Classify(text string) domain.Judgment
}

// Rules is the vocabulary-driven Classifier.
type Rules struct {
	matcher *lexicon.Matcher
}

// NewRules returns a rule-based classifier over m.
func NewRules(m *lexicon.Matcher) *Rules {
	return &Rules{matcher: m}
}

// Explanation is a judgment together with the evidence behind it.
type Explanation struct {
	Judgment domain.Judgment
	Signals  []domain.Signal
	// TypeScores is the summed TYPE strength per tag, in table order. Tags
	// with no signal are omitted.
	TypeScores []Score
	// UrgencyScore is the summed strength of the signals that set the urgency.
	UrgencyScore float64
}

// Score is an aggregate strength for one tag.
type Score struct {
	Tag   string
	Value float64
}

// Classify implements Classifier.
func (r *Rules) Classify(text string) domain.Judgment {
	return r.Explain(text).Judgment
}

// Explain classifies text and returns the intermediate scores.
func (r *Rules) Explain(text string) Explanation {
	table := r.matcher.Table()
	signals := r.matcher.Match(text)
	ex := Explanation{Judgment: domain.NotDisaster(), Signals: signals}

	ex.TypeScores = typeScores(table, signals)
	winner, best := pickType(ex.TypeScores)
	if winner == "" || best < table.Thresholds.Type {
		return ex
	}
	dt, _ := domain.ParseDisasterType(winner)

	urgency, u := pickUrgency(signals, winner, table.Thresholds.Urgency)
	ex.UrgencyScore = u

	j := domain.Judgment{
		IsDisaster:   true,
		DisasterType: dt,
		Urgency:      urgency,
	}
	lat, lon := table.Fallback.Lat, table.Fallback.Lon
	located := false
	if loc, ok := pickLocation(table, signals); ok {
		j.LocationText = loc.Name
		lat, lon = loc.Lat, loc.Lon
		located = true
	}
	j.Lat, j.Lon = &lat, &lon
	j.Confidence = Confidence(best, u, located)

	ex.Judgment = j
	return ex
}

func typeScores(table *lexicon.Table, signals []domain.Signal) []Score {
	sums := make(map[string]float64)
	for _, s := range signals {
		if s.Category == domain.CategoryType {
			sums[s.Tag] += s.Strength
		}
	}
	var scores []Score
	for _, rule := range table.Types {
		if v, ok := sums[rule.Tag]; ok {
			scores = append(scores, Score{Tag: rule.Tag, Value: v})
		}
	}
	return scores
}

// pickType returns the highest score. Scores are in priority order, so a
// strict comparison keeps the higher-priority tag on ties.
func pickType(scores []Score) (string, float64) {
	var tag string
	var best float64
	for _, s := range scores {
		if tag == "" || s.Value > best {
			tag, best = s.Tag, s.Value
		}
	}
	return tag, best
}

// pickUrgency applies the CRITICAL > HIGH > MODERATE chain. Escalation terms
// only count for the type they are scoped to.
func pickUrgency(signals []domain.Signal, winner string, threshold float64) (domain.Urgency, float64) {
	var critical, high float64
	var hasCritical, hasHigh bool
	for _, s := range signals {
		if s.Category != domain.CategoryUrgency || s.Strength < threshold {
			continue
		}
		if s.Scope != "" && s.Scope != winner {
			continue
		}
		switch domain.Urgency(s.Tag) {
		case domain.UrgencyCritical:
			hasCritical = true
			critical += s.Strength
		case domain.UrgencyHigh:
			hasHigh = true
			high += s.Strength
		}
	}
	switch {
	case hasCritical:
		return domain.UrgencyCritical, critical
	case hasHigh:
		return domain.UrgencyHigh, high
	default:
		return domain.UrgencyModerate, 0
	}
}

func pickLocation(table *lexicon.Table, signals []domain.Signal) (lexicon.Location, bool) {
	var name string
	var best float64
	for _, s := range signals {
		if s.Category != domain.CategoryLocation || s.Strength < table.Thresholds.Location {
			continue
		}
		if name == "" || s.Strength > best {
			name, best = s.Tag, s.Strength
		}
	}
	if name == "" {
		return lexicon.Location{}, false
	}
	return table.Location(name)
}
