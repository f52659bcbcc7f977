// Package metrics holds the Prometheus collectors for papertrade.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "papertrade"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotecache",
			Name:      "lookups_total",
			Help:      "Quote lookups by result (hit, miss, stale, unavailable).",
		},
		[]string{"result"},
	)

	upstreamFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetches_total",
			Help:      "Upstream quote fetches by outcome.",
		},
		[]string{"outcome"},
	)

	upstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of upstream quote fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "orders_total",
			Help:      "Orders by side and result.",
		},
		[]string{"side", "result"},
	)

	broadcastTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "ticks_total",
			Help:      "Broadcast ticks by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		cacheLookups,
		upstreamFetches,
		upstreamDuration,
		orders,
		broadcastTicks,
		httpRequests,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func CacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

func UpstreamFetch(ok bool, d time.Duration) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	upstreamFetches.WithLabelValues(outcome).Inc()
	upstreamDuration.Observe(d.Seconds())
}

func Order(side, result string) {
	if side == "" {
		side = "unknown"
	}
	orders.WithLabelValues(strings.ToLower(side), result).Inc()
}

func BroadcastTick(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	broadcastTicks.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one handled request. route should be the route
// template, not the raw path, to keep label cardinality bounded.
func HTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(strings.ToUpper(method), route, strconv.Itoa(status)).Inc()
}
