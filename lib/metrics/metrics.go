// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines switchboard's Prometheus metrics. It is the
// single place metric names, labels, and help strings live.
//
// Metrics register with the default registry on package init; the API
// serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchboard"

// ── Sync engine ──────────────────────────────────────────────────────────────

// SyncCyclesTotal counts successful /sync responses processed.
var SyncCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "sync_cycles_total",
	Help:      "Total number of /sync responses processed.",
})

// SyncFailuresTotal counts failed /sync requests that triggered backoff.
var SyncFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "sync_failures_total",
	Help:      "Total number of failed /sync requests.",
})

// SyncEventsTotal counts domain events emitted by the sync engine.
// Label:
//   - kind: "message" or "invitations"
var SyncEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_events_total",
		Help:      "Total number of domain events emitted, by kind.",
	},
	[]string{"kind"},
)

// ListenerPanicsTotal counts recovered panics in sync and fan-out
// callbacks.
var ListenerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "listener_panics_total",
	Help:      "Total number of recovered panics in event listeners.",
})

// ── Fan-out ──────────────────────────────────────────────────────────────────

// FanoutSubscribers is the number of connected stream subscribers.
var FanoutSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "fanout_subscribers",
	Help:      "Current number of event stream subscribers.",
})

// FanoutDroppedTotal counts subscribers dropped for falling behind.
var FanoutDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "fanout_dropped_subscribers_total",
	Help:      "Total number of subscribers dropped because their buffer was full.",
})

// FanoutCallbackErrorsTotal counts in-process callbacks that returned
// an error or panicked.
var FanoutCallbackErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "fanout_callback_errors_total",
	Help:      "Total number of failed in-process event callbacks.",
})

// ── Router ───────────────────────────────────────────────────────────────────

// RouterForwardsTotal counts router forwards.
// Labels:
//   - route: "human_to_queue", "queue_to_worker", "queue_to_origin", "worker_to_queue"
//   - result: "ok" or "error"
var RouterForwardsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "router_forwards_total",
		Help:      "Total number of router forwards, by route and result.",
	},
	[]string{"route", "result"},
)

// ── Command channel and classifier ───────────────────────────────────────────

// CommandDuration measures admin-bot round trips.
// Label:
//   - result: "ok", "timeout", or "error"
var CommandDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "admin_command_duration_seconds",
		Help:      "Duration of admin-bot command round trips.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"result"},
)

// ClassificationGapsTotal counts rooms excluded from a classification
// because their state could not be read.
var ClassificationGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "classification_gaps_total",
	Help:      "Total number of rooms skipped during classification.",
})

// ── Provisioner ──────────────────────────────────────────────────────────────

// ProvisionPhase is 1 for the provisioner's current phase and 0 for
// every other.
// Label:
//   - phase: unconfigured, configured, pulling, starting, healthy, failed
var ProvisionPhase = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provision_phase",
		Help:      "Current provisioning phase (1 = active).",
	},
	[]string{"phase"},
)

// HealthChecksTotal counts homeserver health probes.
// Label:
//   - result: "healthy", "unhealthy", or "error"
var HealthChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_health_checks_total",
		Help:      "Total number of homeserver health probes, by result.",
	},
	[]string{"result"},
)
