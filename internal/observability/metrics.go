package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for both the gallery engine and
// galleryd. Every method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	FeedNotificationsTotal *prometheus.CounterVec
	OptimisticDeletesTotal *prometheus.CounterVec
	FeedConnected          prometheus.Gauge
	PendingMutations       prometheus.Gauge

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	FeedSubscribers       prometheus.Gauge
	ChangesPublishedTotal *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		FeedNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegallery_feed_notifications_total",
				Help: "Feed notifications handled by the gallery, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		OptimisticDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegallery_optimistic_deletes_total",
				Help: "Optimistic deletes by mode (single, bulk) and outcome",
			},
			[]string{"mode", "outcome"},
		),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotegallery_feed_connected",
			Help: "1 while the gallery holds a healthy feed subscription",
		}),
		PendingMutations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotegallery_pending_mutations",
			Help: "Locally initiated deletes awaiting their feed echo",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegallery_http_requests_total",
				Help: "HTTP requests served by galleryd",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotegallery_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotegallery_feed_subscribers",
			Help: "Open feed websocket connections",
		}),
		ChangesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotegallery_changes_published_total",
				Help: "Artifact changes published to the broker",
			},
			[]string{"kind"},
		),
	}
	registry.MustRegister(
		m.FeedNotificationsTotal,
		m.OptimisticDeletesTotal,
		m.FeedConnected,
		m.PendingMutations,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FeedSubscribers,
		m.ChangesPublishedTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.FeedNotificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordDelete(mode, outcome string) {
	if m == nil {
		return
	}
	m.OptimisticDeletesTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) SetFeedConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.FeedConnected.Set(1)
		return
	}
	m.FeedConnected.Set(0)
}

func (m *Metrics) SetPendingMutations(n int) {
	if m == nil {
		return
	}
	m.PendingMutations.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) AddFeedSubscribers(delta int) {
	if m == nil {
		return
	}
	m.FeedSubscribers.Add(float64(delta))
}

func (m *Metrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.ChangesPublishedTotal.WithLabelValues(kind).Inc()
}
