package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesActive    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "rides_active", Help: "Rides currently in a non-terminal state"})
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total ride requests accepted"})
	RidesAssigned  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_assigned_total", Help: "Total successful driver assignments"})
	RidesDone      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Total rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_cancelled_total", Help: "Total rides cancelled by the rider"})
	RidesExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_expired_total", Help: "Total rides cancelled by search timeout"})

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rejections_total", Help: "Total rejected inbound events by code"},
		[]string{"code"},
	)
	AssignLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "assign_latency_seconds",
		Help:      "Time from ride creation to driver assignment",
		Buckets:   prometheus.DefBuckets,
	})

	ConnectionsOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "connections_online", Help: "Live connections by role"},
		[]string{"role"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
