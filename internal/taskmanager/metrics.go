package taskmanager

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "bleq"
	metricsSubsystem = "scheduler"
)

// schedulerMetrics holds Prometheus metrics for the Scheduler.
type schedulerMetrics struct {
	taskDuration   *prometheus.HistogramVec
	tasksProcessed *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	queueSize      prometheus.Gauge
	inflightOwners prometheus.Gauge
}

// newSchedulerMetrics builds the metrics and registers them with reg, if any.
func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "task_duration_seconds",
				Help:      "Time from task start to terminal state, on the scheduler clock",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"task_kind", "state"},
		),
		tasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "tasks_processed_total",
				Help:      "Total number of tasks that reached a terminal state",
			},
			[]string{"task_kind", "state"},
		),
		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "task_timeouts_total",
				Help:      "Tasks ended by the watchdog",
			},
			[]string{"task_kind"},
		),
		interrupts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "task_interrupts_total",
				Help:      "In-flight tasks stopped cooperatively",
			},
			[]string{"task_kind"},
		),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "task_queue_size",
			Help:      "Current number of pending tasks",
		}),
		inflightOwners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "inflight_owners",
			Help:      "Owners with a task in flight",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.taskDuration,
			m.tasksProcessed,
			m.timeouts,
			m.interrupts,
			m.queueSize,
			m.inflightOwners,
		)
	}

	return m
}
