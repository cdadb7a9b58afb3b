package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup outcomes.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeStale = "stale"
	OutcomeError = "error"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesnippets_requests_total",
			Help: "Total snippet requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "homesnippets_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homesnippets_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesnippets_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesnippets_cache_lookups_total",
			Help: "Derived cache lookups by cache and outcome",
		}, []string{"cache", "outcome"},
	)
	StoreQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesnippets_store_queries_total",
			Help: "Backing store queries by query and outcome",
		}, []string{"query", "outcome"},
	)
	LedgerBumps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homesnippets_ledger_bumps_total",
			Help: "Lastmod ledger entries bumped, by scope",
		}, []string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		CacheLookups, StoreQueries, LedgerBumps)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
