package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staybook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method and status code.",
		},
		[]string{"method", "code"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by initial status.",
		},
		[]string{"status"},
	)

	bookingConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Rejected booking attempts by reason.",
		},
		[]string{"reason"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Applied booking status transitions.",
		},
		[]string{"from", "to"},
	)

	resolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_range_duration_seconds",
			Help:      "Availability resolution latency.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_tasks_total",
			Help:      "Sheets sync task outcomes.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, grpcRequests, bookingsCreated, bookingConflicts,
			transitions, resolveDuration, syncTasks)
	})
}

func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncGRPC(method, code string) {
	grpcRequests.WithLabelValues(method, code).Inc()
}

func IncBookingCreated(status string) {
	bookingsCreated.WithLabelValues(status).Inc()
}

func IncBookingConflict(reason string) {
	bookingConflicts.WithLabelValues(reason).Inc()
}

func IncTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func ObserveResolve(d time.Duration) {
	resolveDuration.Observe(d.Seconds())
}

func IncSyncTask(result string) {
	syncTasks.WithLabelValues(result).Inc()
}
