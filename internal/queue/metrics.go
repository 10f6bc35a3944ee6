package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigil_queue_jobs_enqueued_total",
		Help: "Jobs accepted onto a queue, deduplicated enqueues excluded",
	}, []string{"queue"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigil_queue_jobs_processed_total",
		Help: "Job handler completions by outcome",
	}, []string{"queue", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sigil_queue_job_duration_seconds",
		Help:    "Job handler latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"queue"})
)
