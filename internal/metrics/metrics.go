// Package metrics holds Prometheus instruments that are used across
// treehole.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_tenants",
			Help: "Number of sites currently loaded in memory.",
		})

	TenantLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_total",
			Help: "Cumulative number of sites successfully loaded.",
		})

	TenantLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_errors_total",
			Help: "Cumulative number of site load errors.",
		})

	TenantEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_evict_total",
			Help: "Cumulative number of sites evicted from the cache.",
		})

	// AccessDecisionsTotal is labelled by decision
	// (accept, moderate, throttle, reject).
	AccessDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access policy decisions on submissions.",
		}, []string{"decision"})

	// PublishResultsTotal is labelled by backend kind and outcome
	// (published, needs_input, rejected).
	PublishResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_results_total",
			Help: "Backend publish attempts by outcome.",
		}, []string{"kind", "outcome"})

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Wall-clock time spent in backend publish calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"})

	ConcurrencyAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concurrency_anomalies_total",
			Help: "Throttle confirmations that failed or found inconsistent data.",
		})

	// ModerationItemsTotal is labelled by result (approved, rejected,
	// not_approved, not_rejected).
	ModerationItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_items_total",
			Help: "Moderation batch items by result.",
		}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ActiveTenants,
		TenantLoadTotal,
		TenantLoadErrorsTotal,
		TenantEvictTotal,
		AccessDecisionsTotal,
		PublishResultsTotal,
		PublishDuration,
		ConcurrencyAnomaliesTotal,
		ModerationItemsTotal,
	)
}
