package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- mock geocoder ---

type mockGeocoder struct {
	result GeocodingResult
	err    error
	calls  int
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func locatedJudgment() Judgment {
	lat, lon := 13.936, 121.170
	return Judgment{
		IsDisaster:   true,
		DisasterType: DisasterFlood,
		Urgency:      UrgencyHigh,
		LocationText: "Sabang",
		Lat:          &lat,
		Lon:          &lon,
		Confidence:   90,
	}
}

// --- tests ---

func TestEnrichWithAddress_NilGeocoder(t *testing.T) {
	assert.Empty(t, EnrichWithAddress(context.Background(), locatedJudgment(), nil, discardLogger()))
}

func TestEnrichWithAddress_ReverseGeocode(t *testing.T) {
	geo := &mockGeocoder{result: GeocodingResult{FormattedAddress: "Sabang, Lipa City, Batangas"}}

	addr := EnrichWithAddress(context.Background(), locatedJudgment(), geo, discardLogger())

	assert.Equal(t, "Sabang, Lipa City, Batangas", addr)
	assert.Equal(t, 1, geo.calls)
}

func TestEnrichWithAddress_Error_GracefulDegradation(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("rate limited")}

	addr := EnrichWithAddress(context.Background(), locatedJudgment(), geo, discardLogger())

	assert.Empty(t, addr)
	assert.Equal(t, 1, geo.calls)
}

func TestEnrichWithAddress_SkipsFallbackPin(t *testing.T) {
	geo := &mockGeocoder{result: GeocodingResult{FormattedAddress: "Lipa City"}}
	j := locatedJudgment()
	j.LocationText = ""

	assert.Empty(t, EnrichWithAddress(context.Background(), j, geo, discardLogger()))
	assert.Equal(t, 0, geo.calls)
}

func TestEnrichWithAddress_SkipsNonDisaster(t *testing.T) {
	geo := &mockGeocoder{}

	assert.Empty(t, EnrichWithAddress(context.Background(), NotDisaster(), geo, discardLogger()))
	assert.Equal(t, 0, geo.calls)
}
