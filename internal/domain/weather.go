package domain

import (
	"context"
	"fmt"
	"time"
)

// HourlyEntry is one hour of forecast data. Time is the start of the hour in
// the provider's reference timezone (UTC for WeatherAPI).
type HourlyEntry struct {
	Time          time.Time
	TemperatureC  float64
	ConditionText string
	ConditionIcon string
	CloudCoverPct int
	RainChancePct int
	WindSpeedKph  float64
	WindDirection string // compass point, e.g. "NNW"
	UVIndex       float64
}

// CurrentConditions is the provider's observation at fetch time.
type CurrentConditions struct {
	Time          time.Time
	TemperatureC  float64
	ConditionText string
	ConditionIcon string
}

// Alert is an active severe-weather alert for a location.
type Alert struct {
	Event       string
	Severity    string
	Headline    string
	Description string
	Instruction string // optional
	Effective   time.Time
	Expires     time.Time
}

// WeatherReport is everything the provider returns for one location.
type WeatherReport struct {
	TimezoneID string // IANA identifier, e.g. "America/Chicago"
	Current    CurrentConditions
	Hourly     []HourlyEntry
	Alerts     []Alert
}

// Timezone loads the report's timezone. An unknown identifier is a data gap:
// without it no local hour can be computed.
func (r WeatherReport) Timezone() (*time.Location, error) {
	if r.TimezoneID == "" {
		return nil, fmt.Errorf("%w: provider returned no timezone", ErrDataGap)
	}
	tz, err := time.LoadLocation(r.TimezoneID)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrDataGap, r.TimezoneID, err)
	}
	return tz, nil
}

// WeatherProvider retrieves current conditions, an hourly forecast covering
// at least the next day, and active alerts. Implementations wrap transport
// faults in ErrProviderUnavailable.
type WeatherProvider interface {
	Fetch(ctx context.Context, loc Location) (WeatherReport, error)
}

// GeocodingResult contains coordinates returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves a location triple to coordinates.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, loc Location) (GeocodingResult, error)
}
