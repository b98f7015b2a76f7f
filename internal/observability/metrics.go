package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "rides_created_total", Help: "Total rides created"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "rides_completed_total", Help: "Total rides completed"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "rides_cancelled_total", Help: "Total rides cancelled"})

	OffersIssued   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "offers_issued_total", Help: "Total pending offers issued"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "offers_accepted_total", Help: "Total offers accepted by drivers"})

	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "matches_total", Help: "Total nearest-driver matches"})
	MatchMisses  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "match_misses_total", Help: "Match attempts with no eligible driver"})

	PositionsRecorded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "positions_recorded_total", Help: "Driver position fixes recorded"})

	FareCalcDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taxi_dispatch",
		Name:      "fare_calc_duration_seconds",
		Help:      "Fare calculation latency",
		Buckets:   prometheus.DefBuckets,
	})

	RoutingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "routing_fallbacks_total", Help: "Routing provider fallbacks taken"},
		[]string{"provider"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
