package weatherapi

import (
	"context"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/lru"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CachedProvider wraps a WeatherProvider with a short-lived LRU cache so
// subscribers sharing a location cost one provider request per cycle.
type CachedProvider struct {
	inner   domain.WeatherProvider
	cache   *lru.Cache[domain.WeatherReport]
	metrics *observability.Metrics
}

// NewCachedProvider creates a cache decorator. Reports expire ttl after they
// were fetched, measured on clock.
func NewCachedProvider(inner domain.WeatherProvider, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		cache:   lru.New[domain.WeatherReport](maxEntries, ttl, clock),
		metrics: metrics,
	}
}

// Fetch implements domain.WeatherProvider. Failures are never cached.
func (p *CachedProvider) Fetch(ctx context.Context, loc domain.Location) (domain.WeatherReport, error) {
	key := loc.String()
	if report, ok := p.cache.Get(key); ok {
		p.metrics.ProviderCache.WithLabelValues("hit").Inc()
		return report, nil
	}
	p.metrics.ProviderCache.WithLabelValues("miss").Inc()

	report, err := p.inner.Fetch(ctx, loc)
	if err != nil {
		return report, err
	}
	p.cache.Put(key, report)
	return report, nil
}
