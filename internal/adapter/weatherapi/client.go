// Package weatherapi implements domain.WeatherProvider on the WeatherAPI.com
// forecast endpoint.
package weatherapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
)

const defaultBaseURL = "https://api.weatherapi.com/v1/forecast.json"

// Client fetches current conditions, a two-day hourly forecast, and active
// alerts for one location per call.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	circuit    *gobreaker.CircuitBreaker
	backoff    BackoffConfig
	clock      clockwork.Clock
	geocoder   domain.Geocoder // optional
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGeocoder resolves locations to coordinates before querying.
func WithGeocoder(g domain.Geocoder) Option {
	return func(c *Client) { c.geocoder = g }
}

// WithBaseURL overrides the forecast endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b BackoffConfig) Option {
	return func(c *Client) { c.backoff = b }
}

// WithClock overrides the clock used for retry delays.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a WeatherAPI.com client.
func NewClient(apiKey string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		circuit:    newBreaker(),
		backoff:    DefaultBackoff,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements domain.WeatherProvider. Every failure is wrapped in
// domain.ErrProviderUnavailable.
func (c *Client) Fetch(ctx context.Context, loc domain.Location) (domain.WeatherReport, error) {
	start := c.clock.Now()
	defer func() {
		c.metrics.ProviderDuration.Observe(c.clock.Since(start).Seconds())
	}()

	query := domain.ProviderQuery(ctx, loc, c.geocoder, c.logger)

	build := func(ctx context.Context) (*http.Request, error) {
		params := url.Values{
			"key":    {c.apiKey},
			"q":      {query},
			"days":   {"2"},
			"aqi":    {"no"},
			"alerts": {"yes"},
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	}

	resp, err := doWithResilience(ctx, c.httpClient, c.circuit, c.backoff, c.clock, build)
	if err != nil {
		outcome := "error"
		if errors.Is(err, errCircuitOpen) {
			outcome = "circuit_open"
		}
		c.metrics.ProviderRequests.WithLabelValues(outcome).Inc()
		return domain.WeatherReport{}, fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, loc, err)
	}
	defer resp.Body.Close()

	var payload forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.metrics.ProviderRequests.WithLabelValues("error").Inc()
		return domain.WeatherReport{}, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
	}
	c.metrics.ProviderRequests.WithLabelValues("success").Inc()

	return payload.toReport(c.logger), nil
}

// WeatherAPI.com forecast response types.

type forecastResponse struct {
	Location struct {
		Name    string `json:"name"`
		Region  string `json:"region"`
		Country string `json:"country"`
		TzID    string `json:"tz_id"`
	} `json:"location"`
	Current struct {
		LastUpdatedEpoch int64     `json:"last_updated_epoch"`
		TempC            float64   `json:"temp_c"`
		Condition        condition `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Hour []hour `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Alerts struct {
		Alert []alert `json:"alert"`
	} `json:"alerts"`
}

type condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

type hour struct {
	TimeEpoch    int64     `json:"time_epoch"`
	TempC        float64   `json:"temp_c"`
	Condition    condition `json:"condition"`
	WindKph      float64   `json:"wind_kph"`
	WindDir      string    `json:"wind_dir"`
	Cloud        int       `json:"cloud"`
	ChanceOfRain int       `json:"chance_of_rain"`
	UV           float64   `json:"uv"`
}

type alert struct {
	Headline    string `json:"headline"`
	Severity    string `json:"severity"`
	Event       string `json:"event"`
	Effective   string `json:"effective"`
	Expires     string `json:"expires"`
	Desc        string `json:"desc"`
	Instruction string `json:"instruction"`
}

func (r forecastResponse) toReport(logger *slog.Logger) domain.WeatherReport {
	report := domain.WeatherReport{
		TimezoneID: r.Location.TzID,
		Current: domain.CurrentConditions{
			TemperatureC:  r.Current.TempC,
			ConditionText: r.Current.Condition.Text,
			ConditionIcon: iconURL(r.Current.Condition.Icon),
		},
	}
	if r.Current.LastUpdatedEpoch > 0 {
		report.Current.Time = time.Unix(r.Current.LastUpdatedEpoch, 0).UTC()
	}

	for _, day := range r.Forecast.ForecastDay {
		for _, h := range day.Hour {
			report.Hourly = append(report.Hourly, domain.HourlyEntry{
				Time:          time.Unix(h.TimeEpoch, 0).UTC(),
				TemperatureC:  h.TempC,
				ConditionText: h.Condition.Text,
				ConditionIcon: iconURL(h.Condition.Icon),
				CloudCoverPct: h.Cloud,
				RainChancePct: h.ChanceOfRain,
				WindSpeedKph:  h.WindKph,
				WindDirection: h.WindDir,
				UVIndex:       h.UV,
			})
		}
	}

	for _, a := range r.Alerts.Alert {
		report.Alerts = append(report.Alerts, domain.Alert{
			Event:       a.Event,
			Severity:    a.Severity,
			Headline:    a.Headline,
			Description: a.Desc,
			Instruction: a.Instruction,
			Effective:   parseAlertTime(a.Effective, logger),
			Expires:     parseAlertTime(a.Expires, logger),
		})
	}
	return report
}

// iconURL turns WeatherAPI's protocol-relative icon paths into absolute URLs.
func iconURL(icon string) string {
	if strings.HasPrefix(icon, "//") {
		return "https:" + icon
	}
	return icon
}

func parseAlertTime(s string, logger *slog.Logger) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		logger.Debug("unparseable alert time", "value", s, "error", err)
		return time.Time{}
	}
	return t
}
