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

func (m *mockGeocoder) ForwardGeocode(_ context.Context, _ Location) (GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProviderQuery_NilGeocoder(t *testing.T) {
	q := ProviderQuery(context.Background(), testLocation, nil, discardLogger())
	assert.Equal(t, "Austin,Texas,United States of America", q)
}

func TestProviderQuery_UsesCoordinates(t *testing.T) {
	geo := &mockGeocoder{result: GeocodingResult{Lat: 30.2672, Lon: -97.7431, FormattedAddress: "Austin, Texas"}}

	q := ProviderQuery(context.Background(), testLocation, geo, discardLogger())

	assert.Equal(t, "30.2672,-97.7431", q)
	assert.Equal(t, 1, geo.calls)
}

func TestProviderQuery_Error_GracefulDegradation(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("API timeout")}

	q := ProviderQuery(context.Background(), testLocation, geo, discardLogger())

	assert.Equal(t, testLocation.String(), q)
}

func TestProviderQuery_EmptyResult(t *testing.T) {
	geo := &mockGeocoder{}

	q := ProviderQuery(context.Background(), testLocation, geo, discardLogger())

	assert.Equal(t, testLocation.String(), q)
}
