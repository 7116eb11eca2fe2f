package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "rides_created_total",
		Help: "Rides successfully matched, priced and persisted"})
	MatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "match_failures_total",
		Help: "Ride creation failures by reason"},
		[]string{"reason"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ride_lifecycle", Name: "breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)"},
		[]string{"name"})

	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "event_publish_errors_total",
		Help: "Ride event publish failures by event type"},
		[]string{"event_type"})

	ProgressUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "progress_updates_total",
		Help: "Location updates applied to rides"})
	ProgressDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "progress_dropped_total",
		Help: "Location updates dropped by reason"},
		[]string{"reason"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "rides_completed_total",
		Help: "Rides flipped to completed by the tracker"})

	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "settlements_total",
		Help: "Settlement transactions committed"})
	SettlementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ride_lifecycle", Name: "settlement_failures_total",
		Help: "Settlement failures by reason"},
		[]string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
