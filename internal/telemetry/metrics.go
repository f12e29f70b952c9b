package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics tracks request volume and latency for the HTTP surface.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// BusinessMetrics tracks the IROLE-specific counters named in SPEC_FULL
// §10.
type BusinessMetrics struct {
	CheckoutsTotal           *prometheus.CounterVec
	ReservationsReleased     prometheus.Counter
	ReservationsFulfilled    prometheus.Counter
	GatewayCallDuration      *prometheus.HistogramVec
	SchedulerSweepDuration   prometheus.Histogram
	SchedulerSweepExpired    prometheus.Counter
	SchedulerSweepCancelled  prometheus.Counter
}

// NewHTTPMetrics registers and returns the HTTP metric set for
// serviceName.
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    serviceName + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// NewBusinessMetrics registers and returns the domain metric set for
// serviceName.
func NewBusinessMetrics(serviceName string) *BusinessMetrics {
	return &BusinessMetrics{
		CheckoutsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_checkout_total",
			Help: "Checkouts by outcome.",
		}, []string{"outcome"}),
		ReservationsReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_released_total",
			Help: "Reservations terminated as RELEASED.",
		}),
		ReservationsFulfilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_reservations_fulfilled_total",
			Help: "Reservations terminated as FULFILLED.",
		}),
		GatewayCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    serviceName + "_payment_gateway_duration_seconds",
			Help:    "Gateway call duration in seconds by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		SchedulerSweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    serviceName + "_scheduler_sweep_duration_seconds",
			Help:    "Duration of one scheduler tick.",
			Buckets: prometheus.DefBuckets,
		}),
		SchedulerSweepExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_scheduler_sweep_expired_total",
			Help: "Reservations expired by the scheduler.",
		}),
		SchedulerSweepCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: serviceName + "_scheduler_sweep_orders_cancelled_total",
			Help: "Orders cancelled for abandonment by the scheduler.",
		}),
	}
}

// RecordHTTPRequest records one completed HTTP request.
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
