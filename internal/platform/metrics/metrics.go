// Package metrics provides Prometheus metrics for the metadata mapping service.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes recorded by RecordResolution.
const (
	OutcomeHit      = "hit"
	OutcomeOrphan   = "orphan"
	OutcomeMismatch = "mismatch"
)

// Metrics holds all Prometheus metrics for the mapping service.
type Metrics struct {
	ResolutionsTotal *prometheus.CounterVec
	SyncEventsTotal  *prometheus.CounterVec
	PublishedTotal   prometheus.Counter
	PublishPages     prometheus.Counter

	registry *prometheus.Registry
}

// New creates all metrics on a private registry so tests can construct
// independent instances without duplicate registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metadatamapping_resolutions_total",
				Help: "Total number of term mapping dereference attempts",
			},
			[]string{"class", "outcome"},
		),
		SyncEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metadatamapping_local_mapping_sync_total",
				Help: "Total number of local mapping synchronization events",
			},
			[]string{"event"},
		),
		PublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "metadatamapping_published_concepts_total",
				Help: "Total number of concepts processed by the batch publisher",
			},
		),
		PublishPages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "metadatamapping_publish_pages_total",
				Help: "Total number of pages fetched by the batch publisher",
			},
		),
	}

	reg.MustRegister(m.ResolutionsTotal, m.SyncEventsTotal, m.PublishedTotal, m.PublishPages)
	return m
}

// RecordResolution records the outcome of a single mapped item dereference.
func (m *Metrics) RecordResolution(class, outcome string) {
	m.ResolutionsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordSyncEvent records a local mapping lifecycle transition.
func (m *Metrics) RecordSyncEvent(event string) {
	m.SyncEventsTotal.WithLabelValues(event).Inc()
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}
