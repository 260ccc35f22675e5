// Package metrics exposes Prometheus counters for edit sessions and scenes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one server. Each instance owns its
// registry so several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Edit session metrics
	SessionsActive    prometheus.Gauge
	Generations       *prometheus.CounterVec
	CandidatesTotal   prometheus.Counter
	EntriesChosen     prometheus.Counter
	Navigations       *prometheus.CounterVec
	TransformDuration *prometheus.HistogramVec
	EnhanceErrors     prometheus.Counter

	// Scene metrics
	ScenesActive prometheus.Gauge
	SceneOps     *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "venuestudio_edit_sessions_active",
			Help: "Number of edit sessions held in memory",
		}),
		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuestudio_generations_total",
				Help: "Total number of generation requests",
			},
			[]string{"mode", "status"},
		),
		CandidatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "venuestudio_candidates_total",
			Help: "Total number of candidate images recorded in edit history",
		}),
		EntriesChosen: factory.NewCounter(prometheus.CounterOpts{
			Name: "venuestudio_entries_chosen_total",
			Help: "Total number of history entries chosen",
		}),
		Navigations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuestudio_navigations_total",
				Help: "Total number of history navigations",
			},
			[]string{"kind"},
		),
		TransformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "venuestudio_transform_duration_seconds",
				Help:    "Image transform duration in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"mode"},
		),
		EnhanceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "venuestudio_enhance_errors_total",
			Help: "Prompt enhancements that failed and fell back to the raw prompt",
		}),

		ScenesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "venuestudio_scenes_active",
			Help: "Number of scenes held in memory",
		}),
		SceneOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuestudio_scene_operations_total",
				Help: "Total number of scene operations",
			},
			[]string{"op"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuestudio_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveTransform records how long a transform for mode took.
func (m *Metrics) ObserveTransform(mode string, d time.Duration) {
	m.TransformDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
