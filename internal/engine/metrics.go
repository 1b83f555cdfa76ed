package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dollforge_tasks_submitted_total",
			Help: "Total number of tasks admitted past validation.",
		},
		[]string{"stage"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dollforge_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal state.",
		},
		[]string{"stage", "status"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dollforge_tasks_in_flight",
			Help: "Number of tasks currently executing their pipeline.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dollforge_queue_depth",
			Help: "Number of tasks waiting for a concurrency slot.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksFinished)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(queueDepth)
}
