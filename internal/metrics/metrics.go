// Package metrics exposes the Prometheus instruments of the research ledger
// service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rlSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_sessions_active",
		Help: "Number of sessions currently held in memory.",
	})

	rlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	rlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rl_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rlLedgerAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_ledger_appends_total",
		Help: "Total ledger append attempts by outcome.",
	}, []string{"outcome"})

	rlAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rl_append_duration_seconds",
		Help:    "Time from append call to commit, including the wait at the gate.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	rlVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_verifications_total",
		Help: "Total chain verifications by overall result.",
	}, []string{"result"})

	rlExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_exports_total",
		Help: "Total exported bundles by trust verdict.",
	}, []string{"trusted"})

	rlJournalBroken = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rl_journal_sessions_broken",
		Help: "Journaled sessions whose stored chain failed the last integrity sweep.",
	})

	rlNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_notifications_total",
		Help: "Total export notification deliveries by success status.",
	}, []string{"status"})
)

// Middleware returns a Gin middleware that records per-request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		rlRequestsTotal.WithLabelValues(method, path, status).Inc()
		rlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records one append attempt and, on success, its latency.
func RecordAppend(err error, took time.Duration) {
	if err != nil {
		rlLedgerAppendsTotal.WithLabelValues("error").Inc()
		return
	}
	rlLedgerAppendsTotal.WithLabelValues("committed").Inc()
	rlAppendDuration.Observe(took.Seconds())
}

// RecordVerification records a verifier run by its overall result.
func RecordVerification(result string) {
	rlVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordExport records an exported bundle.
func RecordExport(trusted bool) {
	rlExportsTotal.WithLabelValues(strconv.FormatBool(trusted)).Inc()
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(success bool) {
	if success {
		rlNotificationsTotal.WithLabelValues("success").Inc()
	} else {
		rlNotificationsTotal.WithLabelValues("failure").Inc()
	}
}

// SetSessionsActive sets the in-memory session gauge.
func SetSessionsActive(n int) {
	rlSessionsActive.Set(float64(n))
}

// SetJournalBroken sets the number of journaled sessions with a broken chain.
func SetJournalBroken(n int) {
	rlJournalBroken.Set(float64(n))
}
