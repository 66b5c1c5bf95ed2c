package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TripsRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "trips_requested_total", Help: "Total trips requested"})
	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "trips_completed_total", Help: "Total trips completed"})
	TripsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "trips_cancelled_total", Help: "Total trips cancelled"})
	DriversOnline  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trike_dispatch", Name: "drivers_online", Help: "Number of online drivers"})

	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "fare_quotes_total", Help: "Fare quotes served, by pricing source"},
		[]string{"source"},
	)

	AcceptAttempts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "accept_attempts_total", Help: "Driver accept attempts"})
	AcceptWins      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "accept_wins_total", Help: "Accept attempts that claimed the trip"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the claim race"})
	AcceptLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "trike_dispatch", Name: "accept_latency_seconds", Help: "Accept path latency seconds"})

	ScheduledClaims = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "scheduled_claims_total", Help: "Scheduled rides claimed by drivers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trike_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trike_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
