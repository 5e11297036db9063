// Package metrics provides Prometheus metrics collection for StepGate services
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stepgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)
)

// Authentication decision metrics
var (
	// RiskAssessmentsTotal counts composite risk assessments by resulting tier
	RiskAssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "risk_assessments_total",
			Help:      "Total number of risk assessments by tier",
		},
		[]string{"level"},
	)

	// SignalFailuresTotal counts signal provider failures recovered by
	// neutral-weight substitution
	SignalFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "signal_failures_total",
			Help:      "Total number of signal provider failures substituted with neutral contributions",
		},
		[]string{"signal"},
	)

	// ChallengesIssuedTotal counts issued challenges by method
	ChallengesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "challenges_issued_total",
			Help:      "Total number of challenges issued by method",
		},
		[]string{"method"},
	)

	// ChallengeVerificationsTotal counts verification attempts by method and outcome
	ChallengeVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "challenge_verifications_total",
			Help:      "Total number of challenge verification attempts by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// SessionsIssuedTotal counts authenticated sessions issued by risk tier
	SessionsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "sessions_issued_total",
			Help:      "Total number of authenticated sessions issued by risk tier",
		},
		[]string{"level"},
	)

	// SessionsFailedTotal counts terminally failed authentication sessions by reason
	SessionsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "sessions_failed_total",
			Help:      "Total number of failed authentication sessions by reason",
		},
		[]string{"reason"},
	)

	// ProfileUpdatesTotal counts asynchronous profile updates by outcome
	ProfileUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepgate",
			Name:      "profile_updates_total",
			Help:      "Total number of asynchronous profile updates by outcome",
		},
		[]string{"profile_type", "outcome"},
	)
)

// GinMiddleware returns a Gin middleware that records HTTP metrics
func GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(service, c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(service, c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics HTTP handler wrapped for gin
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
