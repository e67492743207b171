package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_sessions_total",
			Help: "Total number of scan sessions by outcome",
		},
		[]string{"adapter", "outcome"}, // outcome: success, cancelled, error, rejected
	)

	sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanbridge_session_duration_seconds",
			Help:    "Time from scan start to terminal callback",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"adapter"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_events_total",
			Help: "Adapter events received by kind",
		},
		[]string{"kind"},
	)

	staleEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanbridge_stale_events_total",
			Help: "Events discarded because their session already ended",
		},
	)

	ackTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanbridge_ack_timeouts_total",
			Help: "Sessions released without an adapter acknowledgement",
		},
	)

	encodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_encode_requests_total",
			Help: "Encode requests by type and status",
		},
		[]string{"type", "status"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanbridge_active_sessions",
			Help: "1 while a scan session holds the capture resource",
		},
	)
)
