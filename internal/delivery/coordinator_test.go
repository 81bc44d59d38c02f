package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/adapter/memstore"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeProvider struct {
	mu      sync.Mutex
	reports map[string]domain.WeatherReport
	errs    map[string]error
	panics  map[string]bool
	calls   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		reports: map[string]domain.WeatherReport{},
		errs:    map[string]error{},
		panics:  map[string]bool{},
	}
}

func (p *fakeProvider) Fetch(_ context.Context, loc domain.Location) (domain.WeatherReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	key := loc.String()
	if p.panics[key] {
		panic("provider exploded")
	}
	if err, ok := p.errs[key]; ok {
		return domain.WeatherReport{}, err
	}
	report, ok := p.reports[key]
	if !ok {
		return domain.WeatherReport{}, fmt.Errorf("%w: unknown location %s", domain.ErrProviderUnavailable, key)
	}
	return report, nil
}

type sent struct {
	endpoint string
	payload  domain.Payload
}

// recordingChannel records every payload and answers with decide, which
// defaults to Delivered.
type recordingChannel struct {
	mu     sync.Mutex
	sent   []sent
	decide func(sub domain.Subscription, p domain.Payload, n int) domain.DeliveryResult
}

func (c *recordingChannel) Send(_ context.Context, sub domain.Subscription, p domain.Payload) (domain.DeliveryResult, error) {
	c.mu.Lock()
	c.sent = append(c.sent, sent{endpoint: sub.Endpoint, payload: p})
	n := 0
	for _, s := range c.sent {
		if s.endpoint == sub.Endpoint {
			n++
		}
	}
	decide := c.decide
	c.mu.Unlock()

	if decide == nil {
		return domain.Delivered, nil
	}
	switch r := decide(sub, p, n); r {
	case domain.PermanentlyInvalid:
		return r, domain.ErrPermanentEndpoint
	case domain.TransientFailure:
		return r, domain.ErrTransientDelivery
	default:
		return r, nil
	}
}

func (c *recordingChannel) payloadsFor(endpoint string) []domain.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Payload
	for _, s := range c.sent {
		if s.endpoint == endpoint {
			out = append(out, s.payload)
		}
	}
	return out
}

func kinds(payloads []domain.Payload) []domain.Kind {
	out := make([]domain.Kind, len(payloads))
	for i, p := range payloads {
		out[i] = p.Data.Kind
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []domain.DeliveryOutcome
}

func (p *recordingPublisher) PublishOutcomes(_ context.Context, o []domain.DeliveryOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o...)
	return nil
}

type failingListRepo struct {
	domain.SubscriptionRepository
}

func (failingListRepo) ListAll(context.Context) ([]domain.Subscription, error) {
	return nil, &domain.StorageError{Op: "list", Err: errors.New("disk on fire")}
}

// --- fixtures ---

var (
	chicago = mustLoad("America/Chicago")
	austin  = domain.Location{City: "Austin", Region: "TX", Country: "US"}
	paris   = domain.Location{City: "Paris", Region: "", Country: "FR"}
)

func mustLoad(name string) *time.Location {
	tz, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return tz
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// hourly returns n entries starting at local midnight of day in tz. Each
// entry's temperature equals its local hour so tests can tell them apart.
func hourly(day time.Time, tz *time.Location, n int) []domain.HourlyEntry {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, tz)
	out := make([]domain.HourlyEntry, n)
	for i := range out {
		t := start.Add(time.Duration(i) * time.Hour)
		out[i] = domain.HourlyEntry{
			Time:          t.UTC(),
			TemperatureC:  float64(t.In(tz).Hour()),
			ConditionText: "Clear",
			CloudCoverPct: 10,
			RainChancePct: 0,
			WindSpeedKph:  12,
			WindDirection: "S",
			UVIndex:       3,
		}
	}
	return out
}

func reportFor(tz *time.Location, day time.Time, alerts ...domain.Alert) domain.WeatherReport {
	return domain.WeatherReport{
		TimezoneID: tz.String(),
		Hourly:     hourly(day, tz, 48),
		Alerts:     alerts,
	}
}

type harness struct {
	clock     *clockwork.FakeClock
	repo      *memstore.Store
	provider  *fakeProvider
	channel   *recordingChannel
	publisher *recordingPublisher
	metrics   *observability.Metrics
	coord     *Coordinator
}

func newHarness(t *testing.T, now time.Time, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClockAt(now),
		repo:      memstore.New(),
		provider:  newFakeProvider(),
		channel:   &recordingChannel{},
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetricsForTesting(),
	}
	opts = append([]Option{WithClock(h.clock), WithPublisher(h.publisher)}, opts...)
	h.coord = NewCoordinator(h.repo, h.provider, h.channel, discardLogger(), h.metrics, opts...)
	return h
}

func (h *harness) subscribe(t *testing.T, endpoint string, loc domain.Location, tz *time.Location) domain.Subscription {
	t.Helper()
	now := h.clock.Now()
	sub := domain.Subscription{
		Endpoint:             endpoint,
		Keys:                 domain.TransportKeys{P256dh: "p", Auth: "a"},
		Location:             loc,
		CreatedAt:            now,
		NextNotificationTime: domain.NextNotificationTime(now, tz),
	}
	require.NoError(t, h.repo.Upsert(context.Background(), sub))
	return sub
}

func (h *harness) find(t *testing.T, endpoint string) domain.Subscription {
	t.Helper()
	sub, err := h.repo.FindByEndpoint(context.Background(), endpoint)
	require.NoError(t, err)
	return sub
}

// --- tests ---

func TestCoordinator_RegisteredAt13_NotifiedAt14_NextAt16(t *testing.T) {
	registered := time.Date(2026, 3, 1, 13, 20, 0, 0, chicago)
	h := newHarness(t, registered)
	h.provider.reports[austin.String()] = reportFor(chicago, registered)

	sub := h.subscribe(t, "https://push.example/a", austin, chicago)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 0, 0, 0, chicago), sub.NextNotificationTime.In(chicago))

	// The UTC-aligned scheduler fires at 20:00 UTC, which is 14:00 in Chicago.
	h.clock.Advance(40 * time.Minute)
	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Notified)

	payloads := h.channel.payloadsFor(sub.Endpoint)
	require.Len(t, payloads, 2)
	assert.Equal(t, []domain.Kind{domain.KindCurrentWeather, domain.KindForecast}, kinds(payloads))
	assert.Equal(t, "2 PM", payloads[0].Data.Time)
	assert.Contains(t, payloads[0].Title, "14°C")
	assert.Equal(t, "3 PM", payloads[1].Data.Time)
	assert.Contains(t, payloads[1].Title, "15°C")

	got := h.find(t, sub.Endpoint)
	require.NotNil(t, got.LastNotified)
	assert.True(t, got.LastNotified.Equal(h.clock.Now()))
	assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, chicago), got.NextNotificationTime.In(chicago))
}

func TestCoordinator_PermanentlyInvalidPrunes(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now.Add(-time.Hour))
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	sub := h.subscribe(t, "https://push.example/dead", austin, chicago)
	h.channel.decide = func(domain.Subscription, domain.Payload, int) domain.DeliveryResult {
		return domain.PermanentlyInvalid
	}

	h.clock.Advance(time.Hour)
	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pruned)

	_, err = h.repo.FindByEndpoint(context.Background(), sub.Endpoint)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, h.channel.payloadsFor(sub.Endpoint), 1, "remaining sends are aborted")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubscriptionPruned))
}

func TestCoordinator_DataGapSendsOneFallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) // 14:00 in Chicago
	h := newHarness(t, now.Add(-time.Hour))
	report := reportFor(chicago, now)
	report.Hourly = report.Hourly[:15] // local hours 0..14, no 15
	h.provider.reports[austin.String()] = report
	before := h.subscribe(t, "https://push.example/a", austin, chicago)

	h.clock.Advance(time.Hour)
	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fallbacks)

	payloads := h.channel.payloadsFor(before.Endpoint)
	require.Len(t, payloads, 1)
	assert.Equal(t, domain.KindError, payloads[0].Data.Kind)

	after := h.find(t, before.Endpoint)
	assert.Nil(t, after.LastNotified)
	assert.True(t, after.NextNotificationTime.Equal(before.NextNotificationTime))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fallbacks.WithLabelValues(ReasonDataGap)))
}

func TestCoordinator_UnknownTimezoneIsDataGap(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	report := reportFor(chicago, now)
	report.TimezoneID = "Mars/Olympus_Mons"
	h.provider.reports[austin.String()] = report
	sub := h.subscribe(t, "https://push.example/a", austin, time.UTC)

	res := h.coord.Deliver(context.Background(), sub)
	assert.Equal(t, StatusFallback, res.Status)
	require.ErrorIs(t, res.Err, domain.ErrDataGap)
}

func TestCoordinator_ProviderUnavailableSendsFallback(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now.Add(-time.Hour))
	h.provider.errs[austin.String()] = fmt.Errorf("%w: timeout", domain.ErrProviderUnavailable)
	before := h.subscribe(t, "https://push.example/a", austin, chicago)

	h.clock.Advance(time.Hour)
	_, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)

	payloads := h.channel.payloadsFor(before.Endpoint)
	require.Len(t, payloads, 1)
	assert.Equal(t, domain.KindError, payloads[0].Data.Kind)

	after := h.find(t, before.Endpoint)
	assert.Nil(t, after.LastNotified)
	assert.True(t, after.NextNotificationTime.Equal(before.NextNotificationTime), "retried at the very next cycle")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fallbacks.WithLabelValues(ReasonProvider)))
}

func TestCoordinator_FallbackToDeadEndpointPrunes(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.errs[austin.String()] = domain.ErrProviderUnavailable
	sub := h.subscribe(t, "https://push.example/dead", austin, time.UTC)
	h.channel.decide = func(domain.Subscription, domain.Payload, int) domain.DeliveryResult {
		return domain.PermanentlyInvalid
	}

	res := h.coord.Deliver(context.Background(), sub)
	assert.Equal(t, StatusPruned, res.Status)
	_, err := h.repo.FindByEndpoint(context.Background(), sub.Endpoint)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_TwoAlertsInProviderOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now,
		domain.Alert{Event: "Wind Advisory", Severity: "Moderate"},
		domain.Alert{Event: "Flood Watch", Severity: "Severe"},
	)
	sub := h.subscribe(t, "https://push.example/a", austin, chicago)

	res := h.coord.Deliver(context.Background(), sub)
	assert.Equal(t, StatusNotified, res.Status)

	payloads := h.channel.payloadsFor(sub.Endpoint)
	require.Len(t, payloads, 4)
	var alerts []string
	for _, p := range payloads {
		if p.Data.Kind == domain.KindWeatherAlert {
			alerts = append(alerts, p.Data.Event)
		}
	}
	assert.Equal(t, []string{"Wind Advisory", "Flood Watch"}, alerts)
}

func TestCoordinator_AlertsResentEveryCycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now, domain.Alert{Event: "Heat Advisory"})
	sub := h.subscribe(t, "https://push.example/a", austin, chicago)

	h.coord.Deliver(context.Background(), sub)
	h.clock.Advance(2 * time.Hour)
	_, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)

	count := 0
	for _, p := range h.channel.payloadsFor(sub.Endpoint) {
		if p.Data.Kind == domain.KindWeatherAlert {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestCoordinator_TransientFailureOnOneOfThree(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now, domain.Alert{Event: "Wind Advisory"})
	sub := h.subscribe(t, "https://push.example/a", austin, chicago)
	h.channel.decide = func(_ domain.Subscription, _ domain.Payload, n int) domain.DeliveryResult {
		if n == 2 {
			return domain.TransientFailure
		}
		return domain.Delivered
	}

	res := h.coord.Deliver(context.Background(), sub)
	assert.Equal(t, StatusNotified, res.Status)

	payloads := h.channel.payloadsFor(sub.Endpoint)
	assert.Equal(t, []domain.Kind{domain.KindCurrentWeather, domain.KindForecast, domain.KindWeatherAlert}, kinds(payloads))

	got := h.find(t, sub.Endpoint)
	require.NotNil(t, got.LastNotified, "bookkeeping advances when the weather computation succeeded")
	assert.Equal(t, time.Date(2026, 3, 1, 16, 0, 0, 0, chicago), got.NextNotificationTime.In(chicago))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Deliveries.WithLabelValues(string(domain.KindForecast), "transient_failure")))
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now.Add(-time.Hour))
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	h.provider.panics[paris.String()] = true

	h.subscribe(t, "https://push.example/boom", paris, time.UTC)
	ok1 := h.subscribe(t, "https://push.example/a", austin, time.UTC)
	ok2 := h.subscribe(t, "https://push.example/b", austin, time.UTC)
	h.clock.Advance(time.Hour)

	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Due)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Notified)

	assert.Len(t, h.channel.payloadsFor(ok1.Endpoint), 2)
	assert.Len(t, h.channel.payloadsFor(ok2.Endpoint), 2)
}

func TestCoordinator_SkipsSubscriptionsNotDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	sub := h.subscribe(t, "https://push.example/a", austin, time.UTC) // next due 22:00

	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Subscriptions)
	assert.Equal(t, 0, summary.Due)
	assert.Empty(t, h.channel.payloadsFor(sub.Endpoint))
	assert.Equal(t, 0, h.provider.calls)
}

func TestCoordinator_NextNotificationAlwaysEvenLocalHour(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	zones := []string{"UTC", "America/Chicago", "America/St_Johns", "Asia/Kolkata", "Asia/Kathmandu", "Pacific/Chatham", "America/Bogota"}

	h := newHarness(t, now.Add(-3*time.Hour))
	for i, name := range zones {
		tz := mustLoad(name)
		loc := domain.Location{City: fmt.Sprintf("city%d", i), Country: "XX"}
		h.provider.reports[loc.String()] = domain.WeatherReport{
			TimezoneID: name,
			Hourly:     hourly(now.Add(-24*time.Hour), tz, 96),
		}
		h.subscribe(t, fmt.Sprintf("https://push.example/%d", i), loc, tz)
	}
	h.clock.Advance(3 * time.Hour)

	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(zones), summary.Notified)

	for i, name := range zones {
		tz := mustLoad(name)
		got := h.find(t, fmt.Sprintf("https://push.example/%d", i)).NextNotificationTime.In(tz)
		assert.Equal(t, 0, got.Hour()%2, name)
		assert.Equal(t, 0, got.Minute(), name)
		assert.Equal(t, 0, got.Second(), name)
		assert.True(t, got.After(now), name)
	}
}

func TestCoordinator_DeletedDuringDeliveryStaysDeleted(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	sub := h.subscribe(t, "https://push.example/a", austin, chicago)
	h.channel.decide = func(s domain.Subscription, _ domain.Payload, _ int) domain.DeliveryResult {
		_, _ = h.repo.DeleteByEndpoint(context.Background(), s.Endpoint)
		return domain.Delivered
	}

	res := h.coord.Deliver(context.Background(), sub)
	assert.Equal(t, StatusNotified, res.Status)
	require.NoError(t, res.Err)

	_, err := h.repo.FindByEndpoint(context.Background(), sub.Endpoint)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCoordinator_PublishesOutcomesWithCycleID(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	sub := h.subscribe(t, "https://push.example/a", austin, time.UTC)
	h.clock.Advance(2 * time.Hour)

	summary, err := h.coord.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.publisher.outcomes, 2)
	for _, o := range h.publisher.outcomes {
		assert.Equal(t, summary.CycleID, o.CycleID)
		assert.Equal(t, sub.Key(), o.EndpointKey)
		assert.Equal(t, "delivered", o.Result)
	}
}

func TestCoordinator_ListFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	coord := NewCoordinator(failingListRepo{h.repo}, h.provider, h.channel, discardLogger(), h.metrics, WithClock(h.clock))

	_, err := coord.RunCycle(context.Background())
	var se *domain.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CycleFailures))
}

// blockingChannel tracks how many sends run at once.
type blockingChannel struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *blockingChannel) Send(context.Context, domain.Subscription, domain.Payload) (domain.DeliveryResult, error) {
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	c.inFlight.Add(-1)
	return domain.Delivered, nil
}

func TestCoordinator_ConcurrencyBound(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.provider.reports[austin.String()] = reportFor(chicago, now)
	for i := range 12 {
		h.subscribe(t, fmt.Sprintf("https://push.example/%d", i), austin, time.UTC)
	}
	h.clock.Advance(2 * time.Hour)

	ch := &blockingChannel{}
	coord := NewCoordinator(h.repo, h.provider, ch, discardLogger(), h.metrics, WithClock(h.clock), WithConcurrency(3))

	summary, err := coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Notified)
	assert.LessOrEqual(t, ch.peak.Load(), int32(3))
}

func TestDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.True(t, Due(domain.Subscription{NextNotificationTime: now}, now))
	assert.True(t, Due(domain.Subscription{NextNotificationTime: now.Add(-4 * time.Hour)}, now))
	assert.True(t, Due(domain.Subscription{NextNotificationTime: now}, now.Add(-30*time.Second)), "early timer fire")
	assert.False(t, Due(domain.Subscription{NextNotificationTime: now.Add(2 * time.Hour)}, now))
}

func TestCycleIDContext(t *testing.T) {
	assert.Empty(t, CycleIDFrom(context.Background()))
	assert.Equal(t, "abc", CycleIDFrom(WithCycleID(context.Background(), "abc")))
}
