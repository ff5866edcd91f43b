package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages enqueued counter
	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_enqueued_total",
			Help: "Total number of messages enqueued",
		},
		[]string{"tag"},
	)

	// Messages taken into custody
	MessagesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_claimed_total",
			Help: "Total number of messages claimed",
		},
		[]string{"tag"},
	)

	// Custody ended with a delete
	MessagesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_completed_total",
			Help: "Total number of messages completed and deleted",
		},
		[]string{"tag"},
	)

	// Custody ended with a recorded failure
	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_failed_total",
			Help: "Total number of processing failures recorded",
		},
		[]string{"tag"},
	)

	// Messages disposed after too many failures
	MessagesPoisoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_poisoned_total",
			Help: "Total number of poison messages disposed",
		},
		[]string{"tag"},
	)

	MessagesCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagqueue_messages_cancelled_total",
			Help: "Total number of messages cancelled",
		},
	)

	// Why a waiting listener woke up: notify, poll or idle
	ListenWakeups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagqueue_listen_wakeups_total",
			Help: "Total number of listener wake-ups by reason",
		},
		[]string{"reason"},
	)

	// Scheduler run duration
	SchedulerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagqueue_scheduler_duration_seconds",
			Help:    "Time taken for a scheduler run",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tags woken by the scheduler
	SchedulerNotified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagqueue_scheduler_notified_total",
			Help: "Total number of tag wake-ups published by the scheduler",
		},
	)

	// Scheduler errors counter
	SchedulerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagqueue_scheduler_errors_total",
			Help: "Total number of scheduler errors",
		},
	)
)
