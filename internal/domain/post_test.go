package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPost() Post {
	lat, lon := 13.936, 121.170
	return Post{
		ID:        7,
		Author:    "Juan",
		Content:   "baha sa sabang",
		CreatedAt: time.Date(2024, 11, 17, 8, 0, 0, 0, time.UTC),
		Triage: &Triage{
			Judgment: Judgment{
				IsDisaster:   true,
				DisasterType: DisasterFlood,
				Urgency:      UrgencyModerate,
				LocationText: "Sabang",
				Lat:          &lat,
				Lon:          &lon,
				Confidence:   91,
			},
			Status: StatusNew,
		},
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
		ok   bool
	}{
		{"NEW", StatusNew, true},
		{"ack", StatusAck, true},
		{"acknowledged", StatusAck, true},
		{" Validated ", StatusValidated, true},
		{"RESOLVED", StatusResolved, true},
		{"closed", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		override bool
		want     bool
	}{
		{StatusNew, StatusAck, false, true},
		{StatusNew, StatusResolved, false, true},
		{StatusAck, StatusValidated, false, true},
		{StatusAck, StatusAck, false, true},
		{StatusNew, StatusNew, false, true},
		{StatusResolved, StatusAck, false, false},
		{StatusResolved, StatusAck, true, true},
		{StatusAck, StatusNew, false, false},
		{StatusAck, StatusNew, true, false},
		{StatusResolved, StatusNew, true, false},
		{Status("BOGUS"), StatusAck, false, false},
		{StatusAck, Status("BOGUS"), true, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s override=%v", tt.from, tt.to, tt.override), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.override))
		})
	}
}

func TestParseDisasterType(t *testing.T) {
	got, ok := ParseDisasterType("flood")
	assert.True(t, ok)
	assert.Equal(t, DisasterFlood, got)

	got, ok = ParseDisasterType("tsunami")
	assert.False(t, ok)
	assert.Equal(t, DisasterUnknown, got)
}

func TestPost_MaskedOmitsOperatorFields(t *testing.T) {
	data, err := json.Marshal(testPost().Masked())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	for _, k := range []string{"urgency", "confidence", "status", "is_disaster", "disaster_type", "lat", "lon"} {
		assert.NotContains(t, fields, k)
	}
	assert.Equal(t, "Juan", fields["author"])
	assert.Equal(t, "baha sa sabang", fields["content"])
}

func TestPost_ForRole(t *testing.T) {
	p := testPost()

	assert.Nil(t, p.For(RoleCitizen).Triage)
	assert.Nil(t, p.For(RoleAnonymous).Triage)

	admin := p.For(RoleAdmin)
	require.NotNil(t, admin.Triage)
	assert.Equal(t, UrgencyModerate, admin.Urgency)
	assert.True(t, admin.Disaster())
}

func TestPost_AdminJSONIsFlat(t *testing.T) {
	data, err := json.Marshal(testPost())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "MODERATE", fields["urgency"])
	assert.Equal(t, "NEW", fields["status"])
	assert.InDelta(t, 91, fields["confidence"], 0)
	assert.InDelta(t, 13.936, fields["lat"], 1e-9)
}

func TestPost_CloneIsDeep(t *testing.T) {
	p := testPost()
	c := p.Clone()
	*c.Lat = 0
	c.Status = StatusResolved

	assert.Equal(t, 13.936, *p.Lat)
	assert.Equal(t, StatusNew, p.Status)
}

func TestNotDisaster_OmitsUrgencyAndConfidence(t *testing.T) {
	data, err := json.Marshal(NotDisaster())
	require.NoError(t, err)
	assert.JSONEq(t, `{"is_disaster":false,"disaster_type":"Unknown","location_text":""}`, string(data))
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("create: %w", Transient("insert post", errors.New("connection reset")))
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "insert post: connection reset")
	assert.Nil(t, Transient("noop", nil))

	verr := fmt.Errorf("wrap: %w", &ValidationError{Field: "content", Reason: "required"})
	assert.True(t, IsValidation(verr))
	assert.False(t, IsValidation(ErrNotFound))
	assert.EqualError(t, &ValidationError{Field: "author", Reason: "required"}, "invalid author: required")
}

func TestNow_UsesClock(t *testing.T) {
	fixed := time.Date(2024, 11, 17, 8, 30, 15, 999, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	assert.Equal(t, time.Date(2024, 11, 17, 8, 30, 15, 0, time.UTC), Now())
}

func TestParseReport(t *testing.T) {
	raw := RawMessage{
		Value:   []byte(`{"author":"  Maria ","content":" baha sa marawoy  "}`),
		Headers: map[string]string{"source": "sms"},
	}
	r, err := ParseReport(raw)
	require.NoError(t, err)
	assert.Equal(t, Report{Author: "Maria", Content: "baha sa marawoy", Source: "sms"}, r)

	_, err = ParseReport(RawMessage{Value: []byte("{invalid")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse report")
}
