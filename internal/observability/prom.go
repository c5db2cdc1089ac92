package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Auth
	LoginResults   *prometheus.CounterVec
	Lockouts       prometheus.Counter
	HashDuration   prometheus.Histogram
	RefreshResults *prometheus.CounterVec
	SessionsSwept  prometheus.Counter
	RateLimited    *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authcore",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				// Sane initial defaults
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "authcore",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "authcore",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		LoginResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "auth",
				Name:      "login_results_total",
				Help:      "Login outcomes by result.",
			},
			[]string{"result"}, // success|invalid_credentials|locked|inactive|two_factor_required|invalid_two_factor|rate_limited|timeout|error
		),
		Lockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "auth",
				Name:      "lockouts_total",
				Help:      "Accounts locked after too many failed attempts.",
			},
		),
		HashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "authcore",
				Subsystem: "auth",
				Name:      "hash_duration_seconds",
				Help:      "Password derivation time including the wait for a pool slot.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		RefreshResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "auth",
				Name:      "refresh_results_total",
				Help:      "Refresh token outcomes by result.",
			},
			[]string{"result"}, // success|invalid|reuse|expired|inactive
		),
		SessionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Subsystem: "sessions",
				Name:      "swept_total",
				Help:      "Expired sessions removed by the background sweeper.",
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "authcore",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limiter.",
			},
			[]string{"scope"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.LoginResults, p.Lockouts, p.HashDuration, p.RefreshResults, p.SessionsSwept, p.RateLimited,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
