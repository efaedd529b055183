package monitoring

import (
	"strconv"
	"time"

	apperrors "memberdash/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// PrometheusCollector records provisioning workflow and HTTP metrics.
type PrometheusCollector struct {
	stepsTotal        *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	breakerState prometheus.Gauge
}

// NewPrometheusCollector registers the metrics on reg. Nil means the
// default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdash_workflow_steps_total",
			Help: "Backend calls made by provisioning workflows",
		}, []string{"operation", "step", "result"}),

		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memberdash_workflow_step_duration_seconds",
			Help:    "Duration of individual provisioning steps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "step"}),

		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdash_workflow_operations_total",
			Help: "Finished member operations by result and error code",
		}, []string{"operation", "result", "code"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memberdash_workflow_operation_duration_seconds",
			Help:    "End-to-end duration of member operations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memberdash_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "memberdash_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memberdash_backend_circuit_state",
			Help: "Hosted backend circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultOK
}

func (p *PrometheusCollector) RecordStep(operation, step string, err error, duration time.Duration) {
	p.stepsTotal.WithLabelValues(operation, step, result(err)).Inc()
	p.stepDuration.WithLabelValues(operation, step).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordOperation(operation string, err error, duration time.Duration) {
	code := ""
	if err != nil {
		code = string(apperrors.CodeOf(err))
		if code == "" {
			code = string(apperrors.ErrCodeInternal)
		}
	}
	p.operationsTotal.WithLabelValues(operation, result(err), code).Inc()
	p.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBreakerState takes the numeric circuit breaker state.
func (p *PrometheusCollector) SetBreakerState(state int) {
	p.breakerState.Set(float64(state))
}

// HTTPMiddleware counts requests by matched route.
func (p *PrometheusCollector) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		p.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		p.httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
