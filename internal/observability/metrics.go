package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the HTTP API, the dispatcher
// and the background loops. All recording methods are nil-safe so wiring
// metrics stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	deliveriesDispatchedTotal *prometheus.CounterVec
	deliveriesFailedTotal     *prometheus.CounterVec
	deliverySendDuration      *prometheus.HistogramVec
	retriesTotal              *prometheus.CounterVec
	workerInflight            prometheus.Gauge
	notificationsExpiredTotal prometheus.Counter
	deliveriesSweptTotal      prometheus.Counter
	queueNotificationsTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_service",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "deliveries_dispatched_total",
				Help:      "Total number of deliveries handed to a sender successfully.",
			},
			[]string{"channel"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "deliveries_failed_total",
				Help:      "Total number of deliveries that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		deliverySendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_service",
				Name:      "delivery_send_duration_seconds",
				Help:      "Sender invocation duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "retries_total",
				Help:      "Total number of delivery retry attempts grouped by channel and result.",
			},
			[]string{"channel", "result"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "notification_service",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight send requests in the ingress worker pool.",
			},
		),
		notificationsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "notifications_expired_total",
				Help:      "Total number of notifications removed by the retention sweeper.",
			},
		),
		deliveriesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "deliveries_swept_total",
				Help:      "Total number of deliveries removed by the retention sweeper.",
			},
		),
		queueNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_service",
				Name:      "queue_notifications_total",
				Help:      "Total number of pending notifications processed by the queue scanner, by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesDispatchedTotal,
		m.deliveriesFailedTotal,
		m.deliverySendDuration,
		m.retriesTotal,
		m.workerInflight,
		m.notificationsExpiredTotal,
		m.deliveriesSweptTotal,
		m.queueNotificationsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDeliveryDispatched(channel string) {
	if m == nil {
		return
	}
	m.deliveriesDispatchedTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) IncDeliveryFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := normalizeLabel(reason)
	m.deliveriesFailedTotal.WithLabelValues(normalizeLabel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliverySendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncRetry(channel string, result string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) AddNotificationsExpired(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.notificationsExpiredTotal.Add(float64(count))
}

func (m *Metrics) AddDeliveriesSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.deliveriesSweptTotal.Add(float64(count))
}

func (m *Metrics) IncQueueNotification(result string) {
	if m == nil {
		return
	}
	m.queueNotificationsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
