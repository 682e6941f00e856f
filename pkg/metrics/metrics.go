// Package metrics holds the Prometheus instruments of the classifier service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "markov_sentinel"

// Verdict results used as the "result" label of verdicts_total.
const (
	ResultMalicious = "malicious"
	ResultBenign    = "benign"
	ResultNone      = "none"
	ResultTooShort  = "too_short"
)

// Metrics is a set of instruments registered on a private registry, so tests
// and multiple instances never collide on the default one. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	observations     *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	verdicts         *prometheus.CounterVec
	classifyDuration prometheus.Histogram
	modelsLoaded     prometheus.Gauge
	libraryReloads   *prometheus.CounterVec
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations accepted for classification",
		}, []string{"protocol"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_rejected_total",
			Help:      "Observations dropped before classification",
		}, []string{"reason"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Classification verdicts by result",
		}, []string{"result"}),
		classifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_seconds",
			Help:      "Time spent classifying one sequence",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		modelsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_loaded",
			Help:      "Models currently installed in the library",
		}),
		libraryReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "library_reloads_total",
			Help:      "Model library reloads by outcome",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.observations,
		m.rejected,
		m.verdicts,
		m.classifyDuration,
		m.modelsLoaded,
		m.libraryReloads,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObservationAccepted(protocol string) {
	if m == nil {
		return
	}
	m.observations.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ObservationRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// VerdictRecorded counts one verdict and the time it took.
func (m *Metrics) VerdictRecorded(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(result).Inc()
	m.classifyDuration.Observe(took.Seconds())
}

func (m *Metrics) SetModelsLoaded(n int) {
	if m == nil {
		return
	}
	m.modelsLoaded.Set(float64(n))
}

// LibraryReloaded counts a reload attempt; a non-nil err counts as a failure.
func (m *Metrics) LibraryReloaded(count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.libraryReloads.WithLabelValues("failure").Inc()
		return
	}
	m.libraryReloads.WithLabelValues("success").Inc()
	m.modelsLoaded.Set(float64(count))
}
