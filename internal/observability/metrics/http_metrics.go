package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics captures inbound HTTP request signals.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

var (
	httpMetricsOnce       sync.Once
	httpMetrics           *HTTPMetrics
	httpMetricsRegisterer prometheus.Registerer
)

// NewHTTPMetrics returns the singleton HTTP metrics registry.
func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpMetricsRegisterer = prometheus.DefaultRegisterer
		httpMetrics = newHTTPMetrics(httpMetricsRegisterer, cfg)
	})
	return httpMetrics
}

// ResetHTTPMetricsForTest drops the singleton and unregisters its
// collectors so the next caller registers fresh ones.
func ResetHTTPMetricsForTest() {
	if httpMetrics != nil && httpMetricsRegisterer != nil {
		for _, c := range httpMetrics.collectors() {
			httpMetricsRegisterer.Unregister(c)
		}
	}
	httpMetricsOnce = sync.Once{}
	httpMetrics = nil
	httpMetricsRegisterer = nil
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.duration, m.inflight}
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "voltgrid"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "voltgrid_http_requests_total",
		Help:        "Inbound HTTP requests by method, route, and status.",
		ConstLabels: constLabels,
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "voltgrid_http_request_duration_seconds",
		Help:        "Inbound HTTP request latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"method", "route"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "voltgrid_http_requests_inflight",
		Help:        "Inbound HTTP requests currently being served.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(requests, duration, inflight)

	return &HTTPMetrics{
		requests: requests,
		duration: duration,
		inflight: inflight,
	}
}

// GinMiddleware records request counts and latency per route.
func (m *HTTPMetrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		m.inflight.Inc()
		start := time.Now()
		c.Next()
		m.inflight.Dec()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
