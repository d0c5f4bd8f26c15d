package domain

import (
	"strings"
	"time"
)

// DisasterType is the canonical incident category assigned by the classifier.
type DisasterType string

const (
	DisasterFlood      DisasterType = "Flood"
	DisasterFire       DisasterType = "Fire"
	DisasterTyphoon    DisasterType = "Typhoon"
	DisasterEarthquake DisasterType = "Earthquake"
	DisasterLandslide  DisasterType = "Landslide"
	DisasterVolcano    DisasterType = "Volcano"
	DisasterMedical    DisasterType = "Medical"
	DisasterPower      DisasterType = "Power"
	DisasterRescue     DisasterType = "Rescue"
	DisasterUnknown    DisasterType = "Unknown"
)

// DisasterTypes lists every known type except Unknown.
var DisasterTypes = []DisasterType{
	DisasterFlood, DisasterFire, DisasterTyphoon, DisasterEarthquake, DisasterLandslide,
	DisasterVolcano, DisasterMedical, DisasterPower, DisasterRescue,
}

// ParseDisasterType maps a rule table tag to a DisasterType. Matching is
// case-insensitive; unknown tags yield DisasterUnknown and false.
func ParseDisasterType(s string) (DisasterType, bool) {
	for _, t := range DisasterTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return DisasterUnknown, false
}

// Urgency is the operator priority of a disaster post.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyModerate Urgency = "MODERATE"
)

// Status is the operator workflow state of a post.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusAck       Status = "ACK"
	StatusValidated Status = "VALIDATED"
	StatusResolved  Status = "RESOLVED"
)

// Statuses lists the workflow states in order.
var Statuses = []Status{StatusNew, StatusAck, StatusValidated, StatusResolved}

// ParseStatus normalizes a user-supplied status. "ACKNOWLEDGED" is accepted as
// an alias for ACK.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW":
		return StatusNew, true
	case "ACK", "ACKNOWLEDGED":
		return StatusAck, true
	case "VALIDATED":
		return StatusValidated, true
	case "RESOLVED":
		return StatusResolved, true
	default:
		return "", false
	}
}

func (s Status) rank() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether a post in status from may move to status to.
// Forward moves are always allowed. Backward moves require override, and no
// move may ever return a post to NEW.
func CanTransition(from, to Status, override bool) bool {
	if from.rank() < 0 || to.rank() < 0 {
		return false
	}
	if to == StatusNew {
		return from == StatusNew
	}
	if to.rank() >= from.rank() {
		return true
	}
	return override
}

// Judgment is the classifier output for one report text.
type Judgment struct {
	IsDisaster   bool         `json:"is_disaster"`
	DisasterType DisasterType `json:"disaster_type"`
	Urgency      Urgency      `json:"urgency,omitempty"`
	LocationText string       `json:"location_text"`
	Lat          *float64     `json:"lat,omitempty"`
	Lon          *float64     `json:"lon,omitempty"`
	Confidence   int          `json:"confidence,omitempty"`
}

// NotDisaster is the judgment for text that describes no incident.
func NotDisaster() Judgment {
	return Judgment{DisasterType: DisasterUnknown}
}

// Triage holds the operator-only view of a post.
type Triage struct {
	Judgment
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`

	// Address is a reverse-geocoded label for the pin. It is informational
	// and never feeds back into the judgment.
	Address string `json:"formatted_address,omitempty"`
}

// Post is a stored citizen report.
type Post struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	*Triage
}

// Disaster reports whether the post was classified as a disaster. Masked
// posts report false.
func (p Post) Disaster() bool {
	return p.Triage != nil && p.Triage.IsDisaster
}

// Masked returns the citizen-safe copy of the post.
func (p Post) Masked() Post {
	return Post{
		ID:        p.ID,
		Author:    p.Author,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	}
}

// For returns the post as the given role may see it.
func (p Post) For(role Role) Post {
	if role.IsOperator() {
		return p.Clone()
	}
	return p.Masked()
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p Post) Clone() Post {
	if p.Triage == nil {
		return p
	}
	t := *p.Triage
	if t.Lat != nil {
		lat := *t.Lat
		t.Lat = &lat
	}
	if t.Lon != nil {
		lon := *t.Lon
		t.Lon = &lon
	}
	p.Triage = &t
	return p
}

// PostQuery selects posts from a repository. Results are newest first.
type PostQuery struct {
	OnlyDisaster bool
	Limit        int
}
