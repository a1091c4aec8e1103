package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HLSJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cotowatch_hls_jobs_active",
		Help: "HLS jobs currently running in this process.",
	})

	HLSJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cotowatch_hls_job_duration_seconds",
		Help:    "Wall time of HLS jobs by outcome and path.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"outcome", "path"})

	HLSJobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cotowatch_hls_job_failures_total",
		Help: "Failed HLS jobs by stage.",
	}, []string{"stage"})

	HLSQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cotowatch_hls_queue_depth",
		Help: "Jobs waiting in the in-process queue.",
	})

	SourceDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cotowatch_source_delete_failures_total",
		Help: "Source files left behind after all deletion attempts.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cotowatch_ws_connections",
		Help: "Open room connections.",
	})

	RoomMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cotowatch_room_messages_total",
		Help: "Inbound room messages by type.",
	}, []string{"type"})

	RoomDroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cotowatch_room_dropped_clients_total",
		Help: "Connections dropped because their send buffer was full.",
	})
)
