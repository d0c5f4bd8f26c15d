package incident

import (
	"context"
	"math"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// UnspecifiedLocation is the ByLocation key for disaster posts pinned to the
// fallback coordinate.
const UnspecifiedLocation = "Unspecified"

// Analytics summarizes one snapshot of the store.
type Analytics struct {
	Total             int            `json:"total"`
	Disasters         int            `json:"disasters"`
	Filtered          int            `json:"filtered"`
	ByType            map[string]int `json:"by_type"`
	ByUrgency         map[string]int `json:"by_urgency"`
	ByStatus          map[string]int `json:"by_status"`
	ByLocation        map[string]int `json:"by_location"`
	AverageConfidence float64        `json:"average_confidence"`
	Open              int            `json:"open"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// Analytics computes counts over a single repository snapshot, so every post
// is counted exactly once.
func (s *Service) Analytics(ctx context.Context, caller domain.Caller) (Analytics, error) {
	posts, err := s.snapshot(ctx, caller)
	if err != nil {
		return Analytics{}, err
	}
	return Summarize(posts, domain.Now()), nil
}

// Summarize builds Analytics from posts. Disaster-only breakdowns ignore
// filtered posts; ByStatus counts every post.
func Summarize(posts []domain.Post, at time.Time) Analytics {
	a := Analytics{
		Total:       len(posts),
		ByType:      make(map[string]int),
		ByUrgency:   make(map[string]int),
		ByStatus:    make(map[string]int),
		ByLocation:  make(map[string]int),
		GeneratedAt: at,
	}
	for _, st := range domain.Statuses {
		a.ByStatus[string(st)] = 0
	}

	var confidence int
	for _, p := range posts {
		if p.Triage == nil {
			continue
		}
		a.ByStatus[string(p.Status)]++
		if !p.IsDisaster {
			a.Filtered++
			continue
		}
		a.Disasters++
		if p.Status != domain.StatusResolved {
			a.Open++
		}
		a.ByType[string(p.DisasterType)]++
		a.ByUrgency[string(p.Urgency)]++
		loc := p.LocationText
		if loc == "" {
			loc = UnspecifiedLocation
		}
		a.ByLocation[loc]++
		confidence += p.Confidence
	}
	if a.Disasters > 0 {
		a.AverageConfidence = math.Round(float64(confidence)/float64(a.Disasters)*100) / 100
	}
	return a
}
