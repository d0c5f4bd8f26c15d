package incident

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// ExportHeader is the column order of Export.
var ExportHeader = []string{
	"id", "created_at", "author", "content",
	"is_disaster", "disaster_type", "urgency", "location_text", "lat", "lon",
	"confidence", "status", "updated_at", "formatted_address",
}

// Export writes every post as CSV, oldest first, from one repository
// snapshot.
func (s *Service) Export(ctx context.Context, caller domain.Caller, w io.Writer) error {
	posts, err := s.snapshot(ctx, caller)
	if err != nil {
		return err
	}
	slices.Reverse(posts)
	return WriteCSV(w, posts)
}

// WriteCSV writes posts in the given order.
func WriteCSV(w io.Writer, posts []domain.Post) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	for _, p := range posts {
		if err := cw.Write(exportRow(p)); err != nil {
			return fmt.Errorf("write export row %d: %w", p.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

// spreadsheetSafe prefixes citizen text that a spreadsheet would evaluate as
// a formula.
func spreadsheetSafe(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func exportRow(p domain.Post) []string {
	row := []string{
		strconv.FormatInt(p.ID, 10),
		p.CreatedAt.UTC().Format(time.RFC3339),
		spreadsheetSafe(p.Author),
		spreadsheetSafe(p.Content),
	}
	if p.Triage == nil {
		return append(row, make([]string, len(ExportHeader)-len(row))...)
	}
	conf := ""
	if p.IsDisaster {
		conf = strconv.Itoa(p.Confidence)
	}
	return append(row,
		strconv.FormatBool(p.IsDisaster),
		string(p.DisasterType),
		string(p.Urgency),
		p.LocationText,
		formatCoord(p.Lat),
		formatCoord(p.Lon),
		conf,
		string(p.Status),
		p.UpdatedAt.UTC().Format(time.RFC3339),
		p.Address,
	)
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
