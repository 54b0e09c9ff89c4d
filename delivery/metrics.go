package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_task_failures_total",
		Help: "Supervised background tasks that ended with an error",
	}, []string{"task"})

	tasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_tasks_running",
		Help: "Supervised background tasks currently running",
	})

	pushedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_pushed_items_total",
		Help: "Items received on the webhook path by outcome",
	}, []string{"outcome"})
)
