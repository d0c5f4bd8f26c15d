// Command genmock reads the labeled report CSV and generates the JSON report
// fixture used by the ingest tests and for seeding a local reports topic. It
// classifies every report with the real rule table and prints the resulting
// distribution, so table edits can be eyeballed before committing.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -csv data/mock/reports.csv \
//	  -out data/mock/reports.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/couchcryptid/alertify-service/internal/classifier"
	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/lexicon"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "labeled report CSV (author,content,source,...)")
	out := flag.String("out", "", "output path for the JSON report fixture")
	lexiconPath := flag.String("lexicon", "", "rule table YAML (default: embedded table)")
	flag.Parse()

	if *csvPath == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -csv, -out")
	}

	table, err := lexicon.Load(*lexiconPath)
	if err != nil {
		return err
	}
	rules := classifier.NewRules(lexicon.NewMatcher(table))

	reports, err := readReports(*csvPath)
	if err != nil {
		return fmt.Errorf("processing %s: %w", *csvPath, err)
	}
	log.Printf("total: %d reports", len(reports))

	if err := writeJSON(*out, reports); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s", *out)

	judgments := make([]domain.Judgment, len(reports))
	for i, r := range reports {
		judgments[i] = rules.Classify(r.Content)
	}
	printStats(judgments)
	return nil
}

func readReports(path string) ([]domain.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[h] = i
	}
	for _, required := range []string{"author", "content", "source"} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	reports := make([]domain.Report, 0, len(rows)-1)
	for _, row := range rows[1:] {
		r := domain.Report{
			Author:  get(row, colIdx, "author"),
			Content: get(row, colIdx, "content"),
			Source:  get(row, colIdx, "source"),
		}
		if r.Content == "" {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func printStats(judgments []domain.Judgment) {
	byType := map[string]int{}
	byUrgency := map[string]int{}
	filtered := 0
	for _, j := range judgments {
		if !j.IsDisaster {
			filtered++
			continue
		}
		byType[string(j.DisasterType)]++
		byUrgency[string(j.Urgency)]++
	}

	fmt.Printf("\ndisasters: %d, filtered: %d\n", len(judgments)-filtered, filtered)
	printCounts("type", byType)
	printCounts("urgency", byUrgency)
}

func printCounts(label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-8s %-12s %d\n", label, k, counts[k])
	}
}
