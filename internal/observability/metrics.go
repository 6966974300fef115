package observability

import (
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics exposes Prometheus collectors that report store, report and
// pipeline activity.
type Metrics struct {
	Registry *prometheus.Registry

	tasksCreated         prometheus.Counter
	transitions          *prometheus.CounterVec
	transitionRejections prometheus.Counter
	reportsGenerated     *prometheus.CounterVec
	pipelineDuration     *prometheus.HistogramVec
	tasksByStatus        *prometheus.GaugeVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the process-wide metrics instance. Collectors are
// created once so repeated store construction does not trip duplicate
// registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.NewRegistry())
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance on reg and panics on
// registration errors. Tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Registry: reg,
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "store",
			Name:      "tasks_created_total",
			Help:      "Number of tasks created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "store",
			Name:      "transitions_total",
			Help:      "Committed task status transitions.",
		}, []string{"from", "to"}),
		transitionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "store",
			Name:      "transition_rejections_total",
			Help:      "Status updates rejected by the lifecycle.",
		}),
		reportsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botfleet",
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Reports generated and persisted.",
		}, []string{"period"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "botfleet",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Time spent processing a task through the bot pipeline.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		tasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "botfleet",
			Subsystem: "store",
			Name:      "tasks",
			Help:      "Stored tasks by current status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.tasksCreated, m.transitions, m.transitionRejections, m.reportsGenerated, m.pipelineDuration, m.tasksByStatus)
	return m
}

func (m *Metrics) TaskCreated() {
	if m == nil {
		return
	}
	m.tasksCreated.Inc()
}

func (m *Metrics) TransitionCommitted(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) TransitionRejected() {
	if m == nil {
		return
	}
	m.transitionRejections.Inc()
}

func (m *Metrics) ReportGenerated(period string) {
	if m == nil {
		return
	}
	m.reportsGenerated.WithLabelValues(period).Inc()
}

func (m *Metrics) ObservePipeline(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// SetTaskCounts replaces the per-status task gauge.
func (m *Metrics) SetTaskCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.tasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// WriteText dumps every registered collector in the Prometheus text
// exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
