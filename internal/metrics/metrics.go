// Package metrics exposes Prometheus collectors for scan runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traceguard"

// Verification outcome labels
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics holds the collectors recorded by the scan orchestrator.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	brokenLinks   *prometheus.GaugeVec
	artifacts     *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_runs_total",
			Help:      "Scan runs by terminal status.",
		}, []string{"status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_phase_duration_seconds",
			Help:      "Time spent in each scan phase.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"phase", "result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_verifications_total",
			Help:      "Evidence signature verifications by outcome.",
		}, []string{"outcome"}),
		brokenLinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broken_links",
			Help:      "Broken traceability links after the last graph build.",
		}, []string{"repository"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_reconciled_total",
			Help:      "Artifacts reconciled by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.runs,
		m.phaseDuration,
		m.verifications,
		m.brokenLinks,
		m.artifacts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RunFinished counts a run reaching status
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// ObservePhase records how long a phase took and whether it failed
func (m *Metrics) ObservePhase(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.phaseDuration.WithLabelValues(phase, result).Observe(d.Seconds())
}

// Verification counts one verification outcome
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// SetBrokenLinks records the broken-link count of a repository
func (m *Metrics) SetBrokenLinks(repoID string, n int) {
	if m == nil {
		return
	}
	m.brokenLinks.WithLabelValues(repoID).Set(float64(n))
}

// Reconciled adds created, updated and rejected artifact counts
func (m *Metrics) Reconciled(created, updated, rejected int) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues("created").Add(float64(created))
	m.artifacts.WithLabelValues("updated").Add(float64(updated))
	m.artifacts.WithLabelValues("rejected").Add(float64(rejected))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
