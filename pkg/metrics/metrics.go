// Package metrics exposes Prometheus collectors for config reloads and
// plugin traffic. A nil *Metrics records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cruise"

// Reload results.
const (
	ReloadValid    = "valid"
	ReloadFallback = "fallback"
	ReloadInvalid  = "invalid"
)

// Fetch results.
const (
	FetchChanged   = "changed"
	FetchUnchanged = "unchanged"
	FetchUnparsed  = "unparsed"
	FetchError     = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	reloads         *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	pipelines       prometheus.Gauge
	validationFails prometheus.Gauge
	pluginRequests  *prometheus.CounterVec
	pluginLatency   *prometheus.HistogramVec
}

// New registers the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Configuration rebuilds by result.",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config_repo",
			Name:      "fetches_total",
			Help:      "Config repository fetches by repo and result.",
		}, []string{"repo", "result"}),
		pipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "pipelines",
			Help:      "Pipelines in the published configuration.",
		}),
		validationFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "validation_failures",
			Help:      "Entities failing validation in the latest partials.",
		}),
		pluginRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "requests_total",
			Help:      "Requests sent to plugins by plugin, extension and outcome.",
		}, []string{"plugin", "extension", "outcome"}),
		pluginLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "request_duration_seconds",
			Help:      "Plugin request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin", "extension"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reloads,
		m.fetches,
		m.pipelines,
		m.validationFails,
		m.pluginRequests,
		m.pluginLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveReload(result string, pipelines int) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(result).Inc()
	if result != ReloadInvalid {
		m.pipelines.Set(float64(pipelines))
	}
}

func (m *Metrics) SetValidationFailures(n int) {
	if m == nil {
		return
	}
	m.validationFails.Set(float64(n))
}

func (m *Metrics) ObserveFetch(repoID, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(repoID, result).Inc()
}

// ObservePluginRequest records one plugin call. A nil err with a non-2xx
// code counts as a "rejected" outcome.
func (m *Metrics) ObservePluginRequest(pluginID, extension string, code int, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case code < 200 || code > 299:
		outcome = "rejected"
	}
	m.pluginRequests.WithLabelValues(pluginID, extension, outcome).Inc()
	m.pluginLatency.WithLabelValues(pluginID, extension).Observe(took.Seconds())
}
