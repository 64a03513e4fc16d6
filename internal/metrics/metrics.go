// Package metrics exposes Prometheus collectors for halo exchange runs.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refine outcomes.
const (
	OutcomeRefined = "refined"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// Metrics groups the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	PhaseDuration *prometheus.HistogramVec
	HaloBytes     *prometheus.CounterVec
	HaloMessages  *prometheus.CounterVec
	Updates       prometheus.Counter
	Refines       *prometheus.CounterVec
	RefinedPoints prometheus.Counter
	Runs          *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "halomesh_phase_duration_seconds",
			Help:    "Wall time of one exchange phase on one tile",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		HaloBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halomesh_halo_bytes_total",
			Help: "Encoded halo payload bytes by direction of travel",
		}, []string{"op"}),
		HaloMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halomesh_halo_messages_total",
			Help: "Halo messages completed by direction of travel",
		}, []string{"op"}),
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halomesh_region_updates_total",
			Help: "Halo regions replaced from neighbor data",
		}),
		Refines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halomesh_refines_total",
			Help: "Local refinements by outcome",
		}, []string{"outcome"}),
		RefinedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "halomesh_refined_points_total",
			Help: "Points inserted by local refinement",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halomesh_runs_total",
			Help: "Completed runs by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.PhaseDuration, m.HaloBytes, m.HaloMessages, m.Updates,
		m.Refines, m.RefinedPoints, m.Runs,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePhase(phase int, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(strconv.Itoa(phase)).Observe(d.Seconds())
}

func (m *Metrics) Sent(bytes int) {
	if m == nil {
		return
	}
	m.HaloBytes.WithLabelValues("send").Add(float64(bytes))
	m.HaloMessages.WithLabelValues("send").Inc()
}

func (m *Metrics) Received(bytes int) {
	if m == nil {
		return
	}
	m.HaloBytes.WithLabelValues("recv").Add(float64(bytes))
	m.HaloMessages.WithLabelValues("recv").Inc()
	m.Updates.Inc()
}

func (m *Metrics) Refined(outcome string, points int) {
	if m == nil {
		return
	}
	m.Refines.WithLabelValues(outcome).Inc()
	m.RefinedPoints.Add(float64(points))
}

func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Runs.WithLabelValues(result).Inc()
}
