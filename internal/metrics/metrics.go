// Package metrics defines the Prometheus metrics for a torua-sql node:
// gossip exchanges, dispatcher operations per statement kind, and wire
// sessions. All metrics are package-level and registered at init, the way
// cuemby-warren's pkg/metrics registers its own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gossip metrics.
	GossipExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torua_sql_gossip_exchanges_total",
			Help: "Total number of gossip exchanges by peer and outcome",
		},
		[]string{"peer", "outcome"},
	)

	GossipKnownNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "torua_sql_gossip_known_nodes",
			Help: "Number of nodes currently known to this node's gossip store",
		},
	)

	// Dispatcher metrics.
	DispatcherOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torua_sql_dispatcher_operations_total",
			Help: "Total number of statements dispatched by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	DispatcherOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "torua_sql_dispatcher_operation_duration_seconds",
			Help:    "Statement dispatch duration in seconds by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Wire session metrics.
	WireSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "torua_sql_wire_sessions_active",
			Help: "Number of open PostgreSQL wire sessions",
		},
	)

	WireQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torua_sql_wire_queries_total",
			Help: "Total number of simple queries handled by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		GossipExchangesTotal,
		GossipKnownNodes,
		DispatcherOperationsTotal,
		DispatcherOperationDuration,
		WireSessionsActive,
		WireQueriesTotal,
	)
}

// Handler returns the Prometheus scrape handler, served at /metrics on the
// node's debug listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
