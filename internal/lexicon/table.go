package lexicon

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// Table is the rule table the matcher and classifier run on. Types and
// locations are ordered: earlier entries win ties.
type Table struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Fallback   Place      `yaml:"fallback"`
	Types      []TypeRule `yaml:"types"`
	Urgency    Tiers      `yaml:"urgency"`
	Locations  []Location `yaml:"locations"`
}

// Thresholds are the minimum strengths a category must reach to count.
type Thresholds struct {
	Type     float64 `yaml:"type"`
	Urgency  float64 `yaml:"urgency"`
	Location float64 `yaml:"location"`
}

// Place is a labelled coordinate.
type Place struct {
	Label string  `yaml:"label"`
	Lat   float64 `yaml:"lat"`
	Lon   float64 `yaml:"lon"`
}

// TypeRule is the vocabulary of one disaster type plus urgency terms that
// only escalate posts of that type.
type TypeRule struct {
	Tag        string `yaml:"tag"`
	Terms      []Term `yaml:"terms"`
	Escalation Tiers  `yaml:"escalation"`
}

// Tiers holds urgency vocabulary. MODERATE has no terms; it is the default.
type Tiers struct {
	Critical []Term `yaml:"critical"`
	High     []Term `yaml:"high"`
}

// Location is a named place with its pin and the spellings citizens use.
type Location struct {
	Name    string  `yaml:"name"`
	Lat     float64 `yaml:"lat"`
	Lon     float64 `yaml:"lon"`
	Aliases []Term  `yaml:"aliases"`
}

// Term is one vocabulary entry. In YAML a term is either a bare string or a
// mapping with an explicit weight.
type Term struct {
	Text   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`

	norm      string
	compact   string
	runes     int
	multiword bool
}

// UnmarshalYAML accepts `apoy` as well as `{term: apoy, weight: 0.8}`.
func (t *Term) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Text = value.Value
		return nil
	}
	var raw struct {
		Text   string  `yaml:"term"`
		Weight float64 `yaml:"weight"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	t.Text, t.Weight = raw.Text, raw.Weight
	return nil
}

// Default returns the embedded Lipa City rule table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon: %v", err))
	}
	return t
}

// Load reads a rule table from path. An empty path yields Default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML rule table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode lexicon: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Priority returns the tie-break rank of a type tag; lower wins. Unknown tags
// rank after every known one.
func (t *Table) Priority(tag string) int {
	for i, r := range t.Types {
		if r.Tag == tag {
			return i
		}
	}
	return len(t.Types)
}

// Location looks up a location by name.
func (t *Table) Location(name string) (Location, bool) {
	for _, l := range t.Locations {
		if l.Name == name {
			return l, true
		}
	}
	return Location{}, false
}

// TermCount is the number of vocabulary entries across all lists.
func (t *Table) TermCount() int {
	n := len(t.Urgency.Critical) + len(t.Urgency.High)
	for _, r := range t.Types {
		n += len(r.Terms) + len(r.Escalation.Critical) + len(r.Escalation.High)
	}
	for _, l := range t.Locations {
		n += len(l.Aliases)
	}
	return n
}

func (t *Table) compile() error {
	var errs []error
	check := func(cond bool, format string, args ...any) {
		if !cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(t.Thresholds.Type > 0, "thresholds.type must be positive")
	check(t.Thresholds.Urgency > 0 && t.Thresholds.Urgency <= 1, "thresholds.urgency must be in (0,1]")
	check(t.Thresholds.Location > 0 && t.Thresholds.Location <= 1, "thresholds.location must be in (0,1]")
	check(strings.TrimSpace(t.Fallback.Label) != "", "fallback.label is required")
	check(validCoord(t.Fallback.Lat, t.Fallback.Lon), "fallback coordinates out of range")
	check(len(t.Types) > 0, "at least one type is required")

	seenTag := make(map[string]bool)
	for i := range t.Types {
		r := &t.Types[i]
		dt, ok := domain.ParseDisasterType(r.Tag)
		check(ok, "types[%d]: unknown disaster type %q", i, r.Tag)
		if ok {
			r.Tag = string(dt)
		}
		check(!seenTag[r.Tag], "types[%d]: duplicate tag %q", i, r.Tag)
		seenTag[r.Tag] = true
		check(len(r.Terms) > 0, "types[%d] %s: no terms", i, r.Tag)
		errs = append(errs, compileTerms(r.Tag, r.Terms)...)
		errs = append(errs, compileTerms(r.Tag+" escalation critical", r.Escalation.Critical)...)
		errs = append(errs, compileTerms(r.Tag+" escalation high", r.Escalation.High)...)
	}

	errs = append(errs, compileTerms("urgency critical", t.Urgency.Critical)...)
	errs = append(errs, compileTerms("urgency high", t.Urgency.High)...)

	seenLoc := make(map[string]bool)
	for i := range t.Locations {
		l := &t.Locations[i]
		l.Name = strings.TrimSpace(l.Name)
		check(l.Name != "", "locations[%d]: name is required", i)
		check(!seenLoc[l.Name], "locations[%d]: duplicate name %q", i, l.Name)
		seenLoc[l.Name] = true
		check(validCoord(l.Lat, l.Lon), "locations[%d] %s: coordinates out of range", i, l.Name)
		check(len(l.Aliases) > 0, "locations[%d] %s: no aliases", i, l.Name)
		errs = append(errs, compileTerms(l.Name, l.Aliases)...)
	}

	return errors.Join(errs...)
}

func compileTerms(list string, terms []Term) []error {
	var errs []error
	seen := make(map[string]bool, len(terms))
	for i := range terms {
		t := &terms[i]
		if t.Weight == 0 {
			t.Weight = 1
		}
		if t.Weight < 0 || t.Weight > 1 {
			errs = append(errs, fmt.Errorf("%s: term %q weight %v not in (0,1]", list, t.Text, t.Weight))
		}
		t.norm = Normalize(t.Text)
		if t.norm == "" {
			errs = append(errs, fmt.Errorf("%s: term %d is empty", list, i))
			continue
		}
		if seen[t.norm] {
			errs = append(errs, fmt.Errorf("%s: duplicate term %q", list, t.Text))
		}
		seen[t.norm] = true
		t.compact = Compact(t.norm)
		t.runes = utf8.RuneCountInString(t.compact)
		t.multiword = strings.Contains(t.norm, " ")
	}
	return errs
}

func validCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && !(lat == 0 && lon == 0)
}
