package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// ProviderQuery returns the location query sent to the weather provider. With
// a geocoder it prefers "lat,lon" so ambiguous place names resolve to one
// point; if geocoding fails or finds nothing it falls back to the location
// string (graceful degradation).
func ProviderQuery(ctx context.Context, loc Location, geocoder Geocoder, logger *slog.Logger) string {
	if geocoder == nil {
		return loc.String()
	}

	result, err := geocoder.ForwardGeocode(ctx, loc)
	if err != nil {
		logger.Warn("forward geocoding failed, using location name",
			"location", loc.String(),
			"error", err,
		)
		return loc.String()
	}
	if result.Lat == 0 && result.Lon == 0 {
		return loc.String()
	}
	return fmt.Sprintf("%.4f,%.4f", result.Lat, result.Lon)
}
