// Package metrics exposes orchestrator activity as Prometheus metrics
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kfir-abbou/Dapr/pkg/api"
)

// Metrics records status transitions, workflow outcomes, and batch runs
type Metrics struct {
	prom          *prometheus.Registry
	transitions   *prometheus.CounterVec
	workflows     *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
	batches       *prometheus.HistogramVec
}

const namespace = "orchestrator"

// New creates and registers every orchestrator metric on a fresh registry
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		prom: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Accepted shared status transitions.",
		}, []string{"event_type", "from", "to"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Workflow instances that reached a terminal status.",
		}, []string{"kind", "status"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "External events raised with no pending wait.",
		}, []string{"event_name"}),
		batches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch request to published result.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 300, 600},
		}, []string{"success"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.workflows, m.droppedEvents, m.batches,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return m, nil
}

// Handler returns an http.Handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.prom
}

// Transitioned counts an accepted status transition
func (m *Metrics) Transitioned(eventType string, from, to api.Status) {
	m.transitions.WithLabelValues(eventType, string(from), string(to)).Inc()
}

// WorkflowFinished counts a workflow instance reaching a terminal status
func (m *Metrics) WorkflowFinished(
	kind api.WorkflowKind, status api.WorkflowStatus,
) {
	m.workflows.WithLabelValues(string(kind), string(status)).Inc()
}

// EventDropped counts an external event that found no pending wait
func (m *Metrics) EventDropped(eventName string) {
	m.droppedEvents.WithLabelValues(eventName).Inc()
}

// BatchFinished observes the duration of a completed batch
func (m *Metrics) BatchFinished(success bool, d time.Duration) {
	m.batches.WithLabelValues(strconv.FormatBool(success)).
		Observe(d.Seconds())
}
