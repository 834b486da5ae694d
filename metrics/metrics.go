package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method"},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "attempts_total",
			Help:      "Payment attempts by how they ended: opened or the failure kind",
		},
		[]string{"result"},
	)

	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "outcomes_total",
			Help:      "Settled checkouts by outcome and mode",
		},
		[]string{"outcome", "sandbox"},
	)

	BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "backend_call_duration_seconds",
			Help:      "Inscriptions backend call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	PublicKeySanitizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "public_key_sanitized_total",
		Help:      "Attempts whose public key had to be cleaned before use",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkout",
		Name:      "active_sessions",
		Help:      "Mounted checkout sessions",
	})

	ScriptAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkout",
		Name:      "vendor_script_available",
		Help:      "1 when the last probe of the vendor script succeeded",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AttemptsTotal,
		OutcomesTotal,
		BackendCallDuration,
		PublicKeySanitizedTotal,
		ActiveSessions,
		ScriptAvailable,
	)
}

func IncAttempt(result string) {
	AttemptsTotal.WithLabelValues(result).Inc()
}

func IncOutcome(outcome string, sandbox bool) {
	OutcomesTotal.WithLabelValues(outcome, strconv.FormatBool(sandbox)).Inc()
}

func ObserveBackendCall(operation string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BackendCallDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// Middleware records request count and latency. The route template is used as
// label so session ids do not blow up cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if route == "/metrics" {
			return
		}
		method := c.Request.Method
		HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
