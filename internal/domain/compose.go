package domain

import (
	"fmt"
	"strings"
	"time"
)

// alertTimeLayout renders alert validity in the subscriber's timezone.
const alertTimeLayout = "Mon Jan 2, 3:04 PM MST"

// ComposeCurrent builds the current_weather payload for the entry covering
// the current local hour.
func ComposeCurrent(loc Location, e HourlyEntry, label string) Payload {
	return Payload{
		Title: fmt.Sprintf("%s now: %s, %s", loc.DisplayName(), formatTemp(e.TemperatureC), conditionText(e)),
		Body:  conditionDetails(e),
		Icon:  iconOrDefault(e.ConditionIcon),
		Data: PayloadData{
			Kind:     KindCurrentWeather,
			Location: loc.String(),
			Time:     label,
		},
	}
}

// ComposeForecast builds the forecast payload for the next local hour.
func ComposeForecast(loc Location, e HourlyEntry, label string) Payload {
	return Payload{
		Title: fmt.Sprintf("%s at %s: %s, %s", loc.DisplayName(), label, formatTemp(e.TemperatureC), conditionText(e)),
		Body:  conditionDetails(e),
		Icon:  iconOrDefault(e.ConditionIcon),
		Data: PayloadData{
			Kind:     KindForecast,
			Location: loc.String(),
			Time:     label,
		},
	}
}

// ComposeAlert builds a weather_alert payload. Effective and expiry times are
// rendered in tz; the instruction line is omitted when empty.
func ComposeAlert(loc Location, a Alert, tz *time.Location) Payload {
	lines := make([]string, 0, 4)
	if a.Headline != "" {
		lines = append(lines, a.Headline)
	}
	if validity := alertValidity(a, tz); validity != "" {
		lines = append(lines, validity)
	}
	if a.Description != "" {
		lines = append(lines, strings.TrimSpace(a.Description))
	}
	if a.Instruction != "" {
		lines = append(lines, strings.TrimSpace(a.Instruction))
	}

	title := fmt.Sprintf("%s in %s", orDefault(a.Event, "Weather alert"), loc.DisplayName())
	if a.Severity != "" {
		title = fmt.Sprintf("%s (%s)", title, a.Severity)
	}

	return Payload{
		Title: title,
		Body:  strings.Join(lines, "\n"),
		Icon:  AlertIcon,
		Data: PayloadData{
			Kind:     KindWeatherAlert,
			Location: loc.String(),
			Event:    a.Event,
			Severity: a.Severity,
		},
	}
}

// ComposeFailure builds the fallback payload sent when a cycle could not
// produce weather notifications for loc.
func ComposeFailure(loc Location) Payload {
	return Payload{
		Title: "Weather update unavailable",
		Body:  fmt.Sprintf("We couldn't get the latest weather for %s. We'll try again at the next update.", loc.DisplayName()),
		Icon:  ErrorIcon,
		Data: PayloadData{
			Kind:     KindError,
			Location: loc.String(),
		},
	}
}

func alertValidity(a Alert, tz *time.Location) string {
	switch {
	case !a.Effective.IsZero() && !a.Expires.IsZero():
		return fmt.Sprintf("From %s until %s", a.Effective.In(tz).Format(alertTimeLayout), a.Expires.In(tz).Format(alertTimeLayout))
	case !a.Expires.IsZero():
		return "Until " + a.Expires.In(tz).Format(alertTimeLayout)
	case !a.Effective.IsZero():
		return "From " + a.Effective.In(tz).Format(alertTimeLayout)
	default:
		return ""
	}
}

func conditionDetails(e HourlyEntry) string {
	wind := fmt.Sprintf("Wind %.0f km/h", e.WindSpeedKph)
	if e.WindDirection != "" {
		wind += " " + e.WindDirection
	}
	return strings.Join([]string{
		fmt.Sprintf("Clouds %d%%", e.CloudCoverPct),
		fmt.Sprintf("Rain chance %d%%", e.RainChancePct),
		wind,
		fmt.Sprintf("UV %.0f", e.UVIndex),
	}, " · ")
}

func conditionText(e HourlyEntry) string {
	return orDefault(strings.TrimSpace(e.ConditionText), "Unknown conditions")
}

func formatTemp(c float64) string {
	return fmt.Sprintf("%.0f°C", c)
}

func iconOrDefault(icon string) string {
	return orDefault(icon, DefaultWeatherIcon)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
