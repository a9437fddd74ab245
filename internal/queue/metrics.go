package queue

import (
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Tasks waiting to run per queue and state",
		},
		[]string{"queue", "state"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_dlq_size",
			Help: "Number of archived tasks per queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueDLQSize)
}

func recordQueueInfo(info *asynq.QueueInfo) {
	if info == nil {
		return
	}
	QueueDepth.WithLabelValues(info.Queue, "pending").Set(float64(info.Pending))
	QueueDepth.WithLabelValues(info.Queue, "scheduled").Set(float64(info.Scheduled))
	QueueDepth.WithLabelValues(info.Queue, "retry").Set(float64(info.Retry))
	QueueDLQSize.WithLabelValues(info.Queue).Set(float64(info.Archived))
}
