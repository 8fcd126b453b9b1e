package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// Purchases counts purchase attempts by outcome code ("ok" or an error category).
	Purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_market",
			Subsystem: "market",
			Name:      "purchases_total",
			Help:      "Total number of market purchase attempts.",
		},
		[]string{"result"},
	)

	// SignupBonuses counts bonus grant attempts: granted, skipped or error.
	SignupBonuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_market",
			Subsystem: "accounts",
			Name:      "signup_bonus_total",
			Help:      "Total number of signup bonus grant attempts.",
		},
		[]string{"result"},
	)

	ImageGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_market",
			Subsystem: "images",
			Name:      "generations_total",
			Help:      "Total number of image generation requests.",
		},
		[]string{"result"},
	)

	// TxRetries counts transaction bodies re-executed after an optimistic conflict.
	TxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coin_market",
			Subsystem: "store",
			Name:      "tx_retries_total",
			Help:      "Total number of transaction retries caused by conflicts.",
		},
		[]string{"store"},
	)

	LedgerDiscrepancies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "coin_market",
			Subsystem: "ledger",
			Name:      "discrepancies",
			Help:      "Accounts whose ledger sum differs from their balance at the last reconciliation.",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coin_market",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	Registry.MustRegister(
		Purchases,
		SignupBonuses,
		ImageGenerations,
		TxRetries,
		LedgerDiscrepancies,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request durations using the matched route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
