package mapbox

import (
	"context"

	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/lru"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache. Subscriber
// locations rarely move, so entries never expire.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache[domain.GeocodingResult]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   lru.New[domain.GeocodingResult](maxEntries, 0, nil),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, loc domain.Location) (domain.GeocodingResult, error) {
	key := loc.String()
	if result, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ForwardGeocode(ctx, loc)
	if err != nil {
		return result, err
	}
	// Only cache non-empty results so transient "not found" responses can be retried.
	if result.FormattedAddress != "" {
		c.cache.Put(key, result)
	}
	return result, nil
}
