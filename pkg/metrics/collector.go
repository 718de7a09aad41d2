// Package metrics exposes the Cost & Metrics Aggregator as Prometheus
// collectors: per-phase execution counts and durations, per-phase token and
// dollar spend, queue depth per lane, and approval rendezvous latency. A nil
// *Collector is valid and every recording method on it is a no-op, so
// instrumentation can be wired in without forcing every call site to guard
// on whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/agentpipe/core/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this process exports.
type Collector struct {
	registry *prometheus.Registry

	phaseExecutions *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	phaseErrors     *prometheus.CounterVec

	costPromptTokens     *prometheus.CounterVec
	costCompletionTokens *prometheus.CounterVec
	costUSD              *prometheus.CounterVec

	queueDepth   *prometheus.GaugeVec
	activeTasks  prometheus.Gauge
	orphansFound prometheus.Counter

	approvalLatency *prometheus.HistogramVec
	approvalOutcome *prometheus.CounterVec
}

// New builds a Collector from cfg. If cfg.Enabled is false, New returns nil
// so callers can pass the result straight into constructors without a
// separate enabled check.
func New(cfg *config.MetricsConfig) *Collector {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	c := &Collector{registry: prometheus.NewRegistry()}
	c.initPhaseMetrics(cfg.Namespace)
	c.initCostMetrics(cfg.Namespace)
	c.initQueueMetrics(cfg.Namespace)
	c.initApprovalMetrics(cfg.Namespace)
	return c
}

func (c *Collector) initPhaseMetrics(namespace string) {
	c.phaseExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "phase",
		Name:      "executions_total",
		Help:      "Total number of phase executions by phase name and terminal status.",
	}, []string{"phase", "status"})

	c.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "phase",
		Name:      "duration_seconds",
		Help:      "Phase execution duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
	}, []string{"phase"})

	c.phaseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "phase",
		Name:      "errors_total",
		Help:      "Total number of phase executions that ended in failure.",
	}, []string{"phase", "error_type"})

	c.registry.MustRegister(c.phaseExecutions, c.phaseDuration, c.phaseErrors)
}

func (c *Collector) initCostMetrics(namespace string) {
	c.costPromptTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cost",
		Name:      "prompt_tokens_total",
		Help:      "Total prompt tokens billed, by phase.",
	}, []string{"phase"})

	c.costCompletionTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cost",
		Name:      "completion_tokens_total",
		Help:      "Total completion tokens billed, by phase.",
	}, []string{"phase"})

	c.costUSD = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cost",
		Name:      "usd_total",
		Help:      "Total dollar spend, by phase.",
	}, []string{"phase"})

	c.registry.MustRegister(c.costPromptTokens, c.costCompletionTokens, c.costUSD)
}

func (c *Collector) initQueueMetrics(namespace string) {
	c.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of jobs waiting in a queue lane.",
	}, []string{"lane"})

	c.activeTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "active_tasks",
		Help:      "Number of tasks currently running across this pod's workers.",
	})

	c.orphansFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "orphans_recovered_total",
		Help:      "Total number of orphaned tasks re-admitted to the queue.",
	})

	c.registry.MustRegister(c.queueDepth, c.activeTasks, c.orphansFound)
}

func (c *Collector) initApprovalMetrics(namespace string) {
	c.approvalLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "approval",
		Name:      "latency_seconds",
		Help:      "Time between an approval being requested and resolved.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 18), // 1s to ~36h
	}, []string{"checkpoint"})

	c.approvalOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "approval",
		Name:      "outcomes_total",
		Help:      "Total number of resolved approvals by outcome.",
	}, []string{"checkpoint", "action"})

	c.registry.MustRegister(c.approvalLatency, c.approvalOutcome)
}

// RecordPhaseExecution records one terminal phase run.
func (c *Collector) RecordPhaseExecution(phase, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.phaseExecutions.WithLabelValues(phase, status).Inc()
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPhaseError records a phase failure, tagged with a coarse error
// classification (e.g. "agent_error", "timeout", "security_block").
func (c *Collector) RecordPhaseError(phase, errorType string) {
	if c == nil {
		return
	}
	c.phaseErrors.WithLabelValues(phase, errorType).Inc()
}

// RecordCost records one billed agent turn's token and dollar figures.
func (c *Collector) RecordCost(phase string, promptTokens, completionTokens int, costUSD float64) {
	if c == nil {
		return
	}
	c.costPromptTokens.WithLabelValues(phase).Add(float64(promptTokens))
	c.costCompletionTokens.WithLabelValues(phase).Add(float64(completionTokens))
	c.costUSD.WithLabelValues(phase).Add(costUSD)
}

// SetQueueDepth sets the current depth gauge for a lane.
func (c *Collector) SetQueueDepth(lane string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(lane).Set(float64(depth))
}

// SetActiveTasks sets the gauge of currently running tasks on this pod.
func (c *Collector) SetActiveTasks(count int) {
	if c == nil {
		return
	}
	c.activeTasks.Set(float64(count))
}

// RecordOrphanRecovered increments the orphan recovery counter.
func (c *Collector) RecordOrphanRecovered() {
	if c == nil {
		return
	}
	c.orphansFound.Inc()
}

// RecordApprovalResolved records how long a checkpoint waited before
// resolving, and the action it resolved with.
func (c *Collector) RecordApprovalResolved(checkpoint, action string, latency time.Duration) {
	if c == nil {
		return
	}
	c.approvalLatency.WithLabelValues(checkpoint).Observe(latency.Seconds())
	c.approvalOutcome.WithLabelValues(checkpoint, action).Inc()
}

// Handler returns the HTTP handler serving this collector's registry in the
// Prometheus exposition format. A nil Collector serves 503, so wiring it
// into a mux unconditionally is safe.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, nil if metrics are
// disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
