// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package metrics provides Prometheus collectors for the backup engine.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text
// format. Worker processes keep their own registries; the figures that
// matter operationally (task outcomes, queue depth, worker fleet) are
// observed in the parent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchRequests counts outbound site requests by outcome
	// (ok, http_error, transport_error, forbidden).
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graveyard_fetch_requests_total",
		Help: "Outbound HTTP requests by outcome.",
	}, []string{"outcome"})

	// FetchRetries counts transport-level retries.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graveyard_fetch_retries_total",
		Help: "Transport retries across all requests.",
	})

	// TaskResults counts finished tasks by task name and result
	// (done, error).
	TaskResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graveyard_task_results_total",
		Help: "Finished backup tasks by name and result.",
	}, []string{"task", "result"})

	// UpsertOutcomes counts upsert protocol outcomes by table
	// (created, changed, unchanged).
	UpsertOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graveyard_upsert_outcomes_total",
		Help: "Upsert protocol outcomes by table.",
	}, []string{"table", "outcome"})

	// ReconcileArchived counts rows archived by snapshot reconciliation.
	ReconcileArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graveyard_reconcile_archived_total",
		Help: "Rows archived into historical tables by reconciliation.",
	}, []string{"table"})

	// WorkersRunning tracks the current worker fleet size.
	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graveyard_workers_running",
		Help: "Workers currently running.",
	})

	// QueueDepth tracks tasks waiting in the scheduler deque.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graveyard_queue_depth",
		Help: "Tasks waiting in the scheduler queue.",
	})

	// WebsocketClients tracks connected UI subscribers.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graveyard_websocket_clients",
		Help: "Connected WebSocket subscribers.",
	})
)
