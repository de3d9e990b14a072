package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "focusgate"

var (
	// SessionTransitions counts session state machine transitions.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Session state machine transitions.",
	}, []string{"from", "to", "trigger"})

	// StopRefused counts stop requests refused because a lock was live.
	StopRefused = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stop_refused_total",
		Help:      "Stop requests refused while a hard lock was live.",
	})

	// RuleInstalls counts atomic rule set replace operations.
	RuleInstalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_installs_total",
		Help:      "Atomic rule set replace operations.",
	}, []string{"status"})

	// RuleInstallDuration records rule engine replace latency.
	RuleInstallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rule_install_duration_seconds",
		Help:      "Rule engine replace call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// RulesDropped counts deny entries dropped by the rule cap.
	RulesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_dropped_total",
		Help:      "Deny entries dropped because the rule cap was exceeded.",
	})

	// InstalledRules is a gauge for the currently installed rule count.
	InstalledRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "installed_rules",
		Help:      "Rules currently installed in the host rule engine.",
	})

	// TicksBuffered counts activity ticks added to the in-memory buffer.
	TicksBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_buffered_total",
		Help:      "Activity ticks added to the in-memory buffer.",
	})

	// FlushTotal counts time buffer flush attempts.
	FlushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flush_total",
		Help:      "Time buffer flush attempts.",
	}, []string{"status"})

	// FlushDuration records flush duration.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_duration_seconds",
		Help:      "Time buffer flush duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// RemoteCalls counts raw remote service API calls.
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_calls_total",
		Help:      "Raw remote category/blocklist service call counts.",
	}, []string{"endpoint", "status"})

	// RemoteDuration records remote service API latency.
	RemoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_duration_seconds",
		Help:      "Remote service call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"endpoint"})

	// SyncRuns counts remote refresh passes.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Remote refresh passes.",
	}, []string{"status"})

	// RecoverRuns counts Recover() invocations.
	RecoverRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recover_runs_total",
		Help:      "Recovery passes by outcome.",
	}, []string{"outcome"})

	// HeartbeatTotal counts durable heartbeat writes.
	HeartbeatTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_total",
		Help:      "Durable heartbeat writes.",
	}, []string{"status"})

	// TokenVerifyFailures counts rejected session tokens.
	TokenVerifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_verify_failures_total",
		Help:      "Session tokens rejected at verification.",
	}, []string{"reason"})

	// JobsEnqueued counts propagation jobs placed into the worker channel.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Deny-list propagation jobs placed into worker channel.",
	}, []string{"action"})

	// JobsDropped counts jobs discarded without a remote call.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Jobs discarded without a remote call.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Worker job completions.",
	}, []string{"action", "status"})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current job channel buffer depth.",
	})

	// StoreSizeBytes tracks bbolt on-disk file size.
	StoreSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})

	// TrackedMs is a gauge for milliseconds flushed today per category.
	TrackedMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_ms",
		Help:      "Milliseconds flushed into today's buckets per category.",
	}, []string{"category"})
)
