package domain

import (
	"context"
	"log/slog"
)

// EnrichWithAddress attaches a reverse-geocoded address to a disaster judgment
// that resolved to a known location. A nil geocoder, a fallback pin, or a
// provider failure leave the address empty (graceful degradation).
func EnrichWithAddress(ctx context.Context, j Judgment, geocoder Geocoder, logger *slog.Logger) string {
	if geocoder == nil || !j.IsDisaster || j.LocationText == "" || j.Lat == nil || j.Lon == nil {
		return ""
	}

	result, err := geocoder.ReverseGeocode(ctx, *j.Lat, *j.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"location", j.LocationText,
			"lat", *j.Lat,
			"lon", *j.Lon,
			"error", err,
		)
		return ""
	}
	return result.FormattedAddress
}
