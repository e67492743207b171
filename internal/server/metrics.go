package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Scan/decode/encode request metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_api_requests_total",
			Help: "Total number of scan, decode and encode requests",
		},
		[]string{"type", "status"}, // type: scan, decode, decode_batch, encode, websocket_decode, websocket_scan
	)

	apiProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanbridge_api_processing_duration_seconds",
			Help:    "Processing duration of scan, decode and encode requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type"},
	)

	decodedTextLength = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanbridge_decoded_text_length",
			Help:    "Length of decoded barcode text",
			Buckets: []float64{0, 8, 16, 32, 64, 128, 256, 512, 1024, 4096},
		},
		[]string{"format"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanbridge_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// Client WebSocket metrics (remote devices are counted by the adapter)
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanbridge_websocket_active_connections",
			Help: "Number of active client WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_websocket_messages_total",
			Help: "Total number of client WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// observeResult records the outcome of one API request.
func observeResult(kind string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	apiRequestsTotal.WithLabelValues(kind, status).Inc()
	apiProcessingDuration.WithLabelValues(kind).Observe(seconds)
}
