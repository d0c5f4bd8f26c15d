// Command validate checks the rule table and the labeled report fixtures
// against each other: the table must be internally consistent, the CSV and
// JSON fixtures must agree, and every labeled report must classify the way
// its label says.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -csv data/mock/reports.csv \
//	  -json data/mock/reports.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/alertify-service/internal/classifier"
	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/lexicon"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// labeled is one CSV row with its expectations.
type labeled struct {
	line           int
	report         domain.Report
	expectDisaster *bool
	expectType     string
}

func main() {
	csvPath := flag.String("csv", "", "labeled report CSV")
	jsonPath := flag.String("json", "", "generated JSON report fixture")
	lexiconPath := flag.String("lexicon", "", "rule table YAML (default: embedded table)")
	flag.Parse()

	if *csvPath == "" || *jsonPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*csvPath, *jsonPath, *lexiconPath); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath, jsonPath, lexiconPath string) int {
	fmt.Println("=== Alertify Fixture Validation ===")
	fmt.Println()

	table, err := lexicon.Load(lexiconPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load lexicon: %v\n", err)
		return 1
	}
	rules := classifier.NewRules(lexicon.NewMatcher(table))

	rows, err := loadLabeled(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load CSV: %v\n", err)
		return 1
	}

	fixture, err := loadJSON[domain.Report](jsonPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load JSON: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateLexicon(table),
		validateFixtureParity(rows, fixture),
		validateLabels(rules, rows),
		validateJudgments(rules, fixture),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d labeled CSV, %d JSON; lexicon: %d types, %d locations, %d terms\n",
		len(rows), len(fixture), len(table.Types), len(table.Locations), table.TermCount())

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadLabeled(path string) ([]labeled, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	header := all[0]
	var rows []labeled
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		l := labeled{
			line: i + 2,
			report: domain.Report{
				Author:  fields["author"],
				Content: fields["content"],
				Source:  fields["source"],
			},
			expectType: fields["expect_type"],
		}
		if v := fields["expect_disaster"]; v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("line %d: expect_disaster: %w", l.line, err)
			}
			l.expectDisaster = &b
		}
		rows = append(rows, l)
	}
	return rows, nil
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Phase 1: rule table ──

func validateLexicon(table *lexicon.Table) *phase {
	p := &phase{name: "Phase 1: Lexicon integrity"}
	fmt.Println("Phase 1: Checking rule table...")

	seen := map[string]bool{}
	for _, r := range table.Types {
		if _, ok := domain.ParseDisasterType(r.Tag); !ok {
			p.errorf("type %q is not a known disaster type", r.Tag)
		}
		if seen[r.Tag] {
			p.errorf("type %q is listed twice", r.Tag)
		}
		seen[r.Tag] = true
		if len(r.Terms) == 0 {
			p.errorf("type %q has no terms", r.Tag)
		}
	}

	if len(table.Urgency.Critical) == 0 || len(table.Urgency.High) == 0 {
		p.errorf("urgency tiers must both have terms")
	}

	names := map[string]bool{}
	for _, l := range table.Locations {
		if names[l.Name] {
			p.errorf("location %q is listed twice", l.Name)
		}
		names[l.Name] = true
		if _, ok := table.Location(l.Name); !ok {
			p.errorf("location %q cannot be looked up by name", l.Name)
		}
	}

	if table.Fallback.Label == "" {
		p.errorf("fallback place has no label")
	}

	fmt.Printf("  %d types, %d locations\n", len(table.Types), len(table.Locations))
	return p
}

// ── Phase 2: CSV vs JSON ──

func validateFixtureParity(rows []labeled, fixture []domain.Report) *phase {
	p := &phase{name: "Phase 2: CSV / JSON fixture parity"}
	fmt.Println("Phase 2: Comparing CSV and JSON fixtures...")

	var want []domain.Report
	for _, r := range rows {
		if r.report.Content != "" {
			want = append(want, r.report)
		}
	}
	if len(want) != len(fixture) {
		p.errorf("row count: CSV=%d, JSON=%d (run cmd/genmock)", len(want), len(fixture))
	}

	for i := 0; i < min(len(want), len(fixture)); i++ {
		if want[i] != fixture[i] {
			p.errorf("record %d: CSV=%+v, JSON=%+v", i, want[i], fixture[i])
		}
	}

	fmt.Printf("  %d records compared\n", min(len(want), len(fixture)))
	return p
}

// ── Phase 3: labels ──

func validateLabels(rules *classifier.Rules, rows []labeled) *phase {
	p := &phase{name: "Phase 3: Labeled classification"}
	fmt.Println("Phase 3: Classifying labeled reports...")

	checked := 0
	for _, r := range rows {
		if r.expectDisaster == nil {
			continue
		}
		checked++
		j := rules.Classify(r.report.Content)
		if j.IsDisaster != *r.expectDisaster {
			p.errorf("line %d: %q: is_disaster=%v, want %v", r.line, r.report.Content, j.IsDisaster, *r.expectDisaster)
			continue
		}
		if r.expectType != "" && string(j.DisasterType) != r.expectType {
			p.errorf("line %d: %q: type=%s, want %s", r.line, r.report.Content, j.DisasterType, r.expectType)
		}
	}

	fmt.Printf("  %d labeled reports checked\n", checked)
	return p
}

// ── Phase 4: judgment invariants ──

func validateJudgments(rules *classifier.Rules, fixture []domain.Report) *phase {
	p := &phase{name: "Phase 4: Judgment invariants"}
	fmt.Println("Phase 4: Checking determinism, bounds and masking...")

	for i, r := range fixture {
		j := rules.Classify(r.Content)
		if again := rules.Classify(r.Content); !sameJudgment(j, again) {
			p.errorf("record %d: classification is not deterministic", i)
		}

		if j.IsDisaster {
			if j.Confidence < 85 || j.Confidence > 99 {
				p.errorf("record %d: confidence %d outside [85, 99]", i, j.Confidence)
			}
			if j.Urgency == "" {
				p.errorf("record %d: disaster without urgency", i)
			}
			if j.Lat == nil || j.Lon == nil {
				p.errorf("record %d: disaster without a pin", i)
			}
		} else if j.DisasterType != domain.DisasterUnknown || j.Urgency != "" || j.Confidence != 0 {
			p.errorf("record %d: non-disaster carries triage fields: %+v", i, j)
		}

		post := domain.Post{
			ID:      int64(i + 1),
			Author:  r.Author,
			Content: r.Content,
			Triage:  &domain.Triage{Judgment: j, Status: domain.StatusNew},
		}
		if post.For(domain.RoleCitizen).Triage != nil {
			p.errorf("record %d: citizen view leaks triage", i)
		}
		if post.For(domain.RoleAdmin).Triage == nil {
			p.errorf("record %d: admin view lost triage", i)
		}
	}

	fmt.Printf("  %d records checked\n", len(fixture))
	return p
}

func sameJudgment(a, b domain.Judgment) bool {
	if a.IsDisaster != b.IsDisaster || a.DisasterType != b.DisasterType ||
		a.Urgency != b.Urgency || a.LocationText != b.LocationText || a.Confidence != b.Confidence {
		return false
	}
	return floatEq(a.Lat, b.Lat) && floatEq(a.Lon, b.Lon)
}

func floatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
