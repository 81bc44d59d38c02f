package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_push"

// Metrics holds the Prometheus counters, histograms, and gauges for the notifier.
type Metrics struct {
	SchedulerRunning prometheus.Gauge
	CyclesTotal      prometheus.Counter
	CycleFailures    prometheus.Counter
	CycleDuration    prometheus.Histogram
	CycleSize        prometheus.Histogram

	// Delivery metrics.
	Deliveries         *prometheus.CounterVec // labels: kind, result={delivered,permanently_invalid,transient_failure}
	Fallbacks          *prometheus.CounterVec // labels: reason={provider,data_gap,internal}
	SubscriptionPruned prometheus.Counter

	// Weather provider metrics.
	ProviderRequests *prometheus.CounterVec   // labels: outcome={success,error,circuit_open}
	ProviderCache    *prometheus.CounterVec   // labels: result={hit,miss}
	ProviderDuration prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}

	Registrations *prometheus.CounterVec // labels: op={register,delete,check,list}, outcome={ok,invalid,error}
}

// NewMetrics creates and registers all notifier metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the delivery scheduler is armed, 0 when stopped.",
		}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total delivery cycles started.",
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Cycles that could not list subscriptions or panicked.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete delivery cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		CycleSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_subscriptions",
			Help:      "Number of subscriptions processed per cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Push sends by payload kind and result.",
		}, []string{"kind", "result"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback failure notifications by reason.",
		}, []string{"reason"}),
		SubscriptionPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_pruned_total",
			Help:      "Subscriptions deleted because their endpoint is permanently invalid.",
		}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Weather provider requests by outcome.",
		}, []string{"outcome"}),
		ProviderCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cache_total",
			Help:      "Weather report cache lookups by result.",
		}, []string{"result"}),
		ProviderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Weather provider request duration in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SchedulerRunning,
		m.CyclesTotal,
		m.CycleFailures,
		m.CycleDuration,
		m.CycleSize,
		m.Deliveries,
		m.Fallbacks,
		m.SubscriptionPruned,
		m.ProviderRequests,
		m.ProviderCache,
		m.ProviderDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.Registrations,
	}
}
