package scheduler

import (
	"github.com/dukex/flowengine/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	busyWorkers        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowengine_executions_started_total",
			Help: "Total number of executions that began running.",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_executions_total",
			Help: "Total number of executions that reached a terminal status.",
		}, []string{"status"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowengine_steps_total",
			Help: "Total number of recorded execution steps.",
		}, []string{"node_type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowengine_node_duration_seconds",
			Help:    "Node execution time, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flowengine_busy_workers",
			Help: "Number of workers currently processing an execution.",
		}),
	}

	// Terminal statuses show up as zero from startup.
	for _, status := range []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
		models.ExecutionStatusCancelled,
	} {
		m.executionsFinished.WithLabelValues(string(status))
	}

	if reg != nil {
		reg.MustRegister(m.executionsStarted, m.executionsFinished, m.stepsTotal, m.nodeDuration, m.busyWorkers)
	}

	return m
}

func (m *Metrics) executionStarted() {
	m.executionsStarted.Inc()
}

func (m *Metrics) executionFinished(status models.ExecutionStatus) {
	m.executionsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) stepRecorded(step *models.ExecutionStep) {
	m.stepsTotal.WithLabelValues(string(step.NodeType), string(step.Status)).Inc()

	if step.Status != models.StepStatusWaiting {
		m.nodeDuration.WithLabelValues(string(step.NodeType)).Observe(step.Duration.Seconds())
	}
}

func (m *Metrics) workerBusy() {
	m.busyWorkers.Inc()
}

func (m *Metrics) workerIdle() {
	m.busyWorkers.Dec()
}
