// Package metrics defines and registers all custom Prometheus metrics for the
// marketplace API. It is the single source of truth for metric names, labels,
// and help strings.
//
// Metrics register with the default Prometheus registry on package init, so
// they are exposed by the /metrics handler without further wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketplace"

// ── Authorization metrics ─────────────────────────────────────────────────────

// AuthzDecisionsTotal counts request arbiter verdicts.
// Labels:
//   - route: the route policy name (e.g. "firm.approve")
//   - outcome: "allowed" or the denial reason (e.g. "forbidden", "rate_limited")
var AuthzDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authz_decisions_total",
		Help:      "Total number of request authorization verdicts, by route and outcome.",
	},
	[]string{"route", "outcome"},
)

// RateLimitDecisionsTotal counts rate limiter decisions.
// Labels:
//   - policy: "auth", "api" or "sensitive"
//   - result: "allowed", "denied" or "fail_open"
var RateLimitDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Total number of rate limit decisions, by policy and result.",
	},
	[]string{"policy", "result"},
)

// RateLimitStoreErrorsTotal counts counter store failures. Each one is a
// request that was let through unchecked.
var RateLimitStoreErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_store_errors_total",
		Help:      "Total number of counter store failures, by operation.",
	},
	[]string{"op"},
)

// ── Lifecycle metrics ─────────────────────────────────────────────────────────

// LifecycleTransitionsTotal counts firm lifecycle transitions.
// Labels:
//   - transition: e.g. "approve"
//   - result: "ok", "invalid", "conflict" or "error"
var LifecycleTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Total number of firm lifecycle transition attempts, by transition and result.",
	},
	[]string{"transition", "result"},
)

// TrialExpirationsTotal counts TRIAL_ACTIVE → TRIAL_EXPIRED flips written to the store.
var TrialExpirationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trial_expirations_total",
		Help:      "Total number of trials flipped to expired.",
	},
)

// ── Dispatcher metrics ────────────────────────────────────────────────────────

// TasksQueueDepth tracks the number of tasks waiting in each worker channel.
var TasksQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_queue_depth",
		Help:      "Current number of tasks pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// TasksDroppedTotal counts tasks rejected because their shard was full.
var TasksDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_dropped_total",
		Help:      "Total number of background tasks dropped on a full shard, by task name.",
	},
	[]string{"task"},
)

// TaskDuration measures background task execution time.
// Labels:
//   - task: the task name (e.g. "ratelimit.refund")
//   - result: "ok" or "error"
var TaskDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Duration of background task execution.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"task", "result"},
)
