package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hourlyFrom returns n consecutive hourly entries starting at start (UTC),
// with TemperatureC set to the entry index.
func hourlyFrom(start time.Time, n int) []HourlyEntry {
	entries := make([]HourlyEntry, n)
	for i := range entries {
		entries[i] = HourlyEntry{Time: start.Add(time.Duration(i) * time.Hour).UTC(), TemperatureC: float64(i)}
	}
	return entries
}

func TestSelectWindow(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	// Local midnight 2024-07-10 CDT is 05:00 UTC.
	entries := hourlyFrom(time.Date(2024, time.July, 10, 5, 0, 0, 0, time.UTC), 48)
	now := time.Date(2024, time.July, 10, 14, 5, 0, 0, chicago)

	w, err := SelectWindow(entries, now, chicago)
	require.NoError(t, err)

	assert.Equal(t, 14, w.Current.Time.In(chicago).Hour())
	assert.Equal(t, 15, w.Next.Time.In(chicago).Hour())
	assert.Equal(t, 14.0, w.Current.TemperatureC, "today's entry, not tomorrow's")
	assert.Equal(t, 15.0, w.Next.TemperatureC)
}

func TestSelectWindow_MidnightRollover(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	entries := hourlyFrom(time.Date(2024, time.July, 10, 5, 0, 0, 0, time.UTC), 48)
	now := time.Date(2024, time.July, 10, 23, 30, 0, 0, chicago)

	w, err := SelectWindow(entries, now, chicago)
	require.NoError(t, err)

	assert.Equal(t, 23.0, w.Current.TemperatureC)
	assert.Equal(t, 24.0, w.Next.TemperatureC)
	assert.Equal(t, 0, w.Next.Time.In(chicago).Hour())
	assert.Equal(t, 11, w.Next.Time.In(chicago).Day())
}

func TestSelectWindow_IgnoresEntriesBeforeCurrentHour(t *testing.T) {
	utc := time.UTC
	// Yesterday's 10:00 and 11:00 only.
	entries := hourlyFrom(time.Date(2024, time.July, 9, 10, 0, 0, 0, utc), 2)
	now := time.Date(2024, time.July, 10, 10, 15, 0, 0, utc)

	_, err := SelectWindow(entries, now, utc)
	assert.ErrorIs(t, err, ErrDataGap)
}

func TestSelectWindow_MissingNextHour(t *testing.T) {
	utc := time.UTC
	entries := hourlyFrom(time.Date(2024, time.July, 10, 0, 0, 0, 0, utc), 15) // 00:00..14:00
	now := time.Date(2024, time.July, 10, 14, 0, 0, 0, utc)

	_, err := SelectWindow(entries, now, utc)
	require.ErrorIs(t, err, ErrDataGap)
	assert.Contains(t, err.Error(), "15")
}

func TestSelectWindow_MissingCurrentHour(t *testing.T) {
	utc := time.UTC
	entries := hourlyFrom(time.Date(2024, time.July, 10, 15, 0, 0, 0, utc), 5)
	now := time.Date(2024, time.July, 10, 14, 0, 0, 0, utc)

	_, err := SelectWindow(entries, now, utc)
	require.ErrorIs(t, err, ErrDataGap)
	assert.Contains(t, err.Error(), "14")
}

func TestSelectWindow_Empty(t *testing.T) {
	_, err := SelectWindow(nil, time.Now(), time.UTC)
	assert.ErrorIs(t, err, ErrDataGap)
}

func TestWeatherReportTimezone(t *testing.T) {
	tz, err := WeatherReport{TimezoneID: "Europe/Paris"}.Timezone()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", tz.String())

	_, err = WeatherReport{}.Timezone()
	assert.ErrorIs(t, err, ErrDataGap)

	_, err = WeatherReport{TimezoneID: "Mars/Olympus_Mons"}.Timezone()
	assert.ErrorIs(t, err, ErrDataGap)
}

func TestHourLabel(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	at := time.Date(2024, time.July, 10, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, "2 PM", HourLabel(at, chicago))
	assert.Equal(t, "7 PM", HourLabel(at, time.UTC))
}
