/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SchedulingRunsTotal counts scheduling runs by outcome.
	SchedulingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_scheduling_runs_total",
		Help: "Number of scheduling runs, labeled by outcome.",
	}, []string{"outcome"})

	// TasksScheduledTotal counts tasks that received a slot.
	TasksScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "almanac_tasks_scheduled_total",
		Help: "Number of tasks committed to a time slot.",
	})

	// TasksSkippedTotal counts tasks left unscheduled because no window
	// yielded a slot. This is the expected soft-failure mode, not an error.
	TasksSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "almanac_tasks_skipped_total",
		Help: "Number of tasks skipped because no slot was available.",
	})

	// SchedulingRunDuration observes end-to-end run latency.
	SchedulingRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "almanac_scheduling_run_duration_seconds",
		Help:    "Duration of a full scheduling run.",
		Buckets: prometheus.DefBuckets,
	})

	// SlotSearchDuration observes a single slot search.
	SlotSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "almanac_slot_search_duration_seconds",
		Help:    "Duration of one findAvailableSlots pipeline pass.",
		Buckets: prometheus.DefBuckets,
	})

	// CalendarCacheHits counts event-cache hits.
	CalendarCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "almanac_calendar_cache_hits_total",
		Help: "Calendar event cache hits.",
	})

	// CalendarCacheMisses counts event-cache misses (fetches).
	CalendarCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "almanac_calendar_cache_misses_total",
		Help: "Calendar event cache misses causing a provider fetch.",
	})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almanac_api_requests_total",
		Help: "HTTP requests by method, endpoint, and status.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "almanac_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "almanac_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
