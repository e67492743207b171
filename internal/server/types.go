package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/batch"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/config"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	facade      *bridge.Facade
	remote      *adapter.RemoteAdapter
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	batch       batch.Config
	rateLimiter *RateLimiter
	logger      *slog.Logger

	stopJanitor chan struct{}
	closeOnce   sync.Once
}

// Config holds server configuration.
type Config struct {
	Facade *bridge.Facade
	// Remote, when set, is served at /ws/device.
	Remote      *adapter.RemoteAdapter
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// Workers bounds parallel decoding in /decode/batch.
	Workers   int
	Frame     utils.FrameOptions
	RateLimit config.RateLimitConfig
	Logger    *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	Time            string `json:"time"`
	Adapter         string `json:"adapter,omitempty"`
	State           string `json:"state,omitempty"`
	DeviceConnected *bool  `json:"device_connected,omitempty"`
}

type FormatInfo struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

type FormatsResponse struct {
	Formats []FormatInfo `json:"formats"`
	Count   int          `json:"count"`
}

// ScanResponse answers /scan and /decode.
type ScanResponse struct {
	Success   bool               `json:"success"`
	Result    *bridge.ScanResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorType string             `json:"error_type,omitempty"`
}

type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	State     string `json:"state"`
}

type EncodeResponse struct {
	Success   bool   `json:"success"`
	Image     string `json:"image,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// NewServer creates a server around a facade.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Facade == nil {
		return nil, errors.New("server: facade is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 20
	}
	bcfg := batch.DefaultConfig()
	if cfg.Workers > 0 {
		bcfg.Workers = cfg.Workers
	}
	if cfg.Frame != (utils.FrameOptions{}) {
		bcfg.Frame = cfg.Frame
	}
	bcfg.ContinueOnError = true

	s := &Server{
		facade:      cfg.Facade,
		remote:      cfg.Remote,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: maxUpload,
		timeout:     time.Duration(cfg.TimeoutSec) * time.Second,
		batch:       bcfg,
		rateLimiter: NewRateLimiterFromConfig(cfg.RateLimit),
		logger:      logger,
		stopJanitor: make(chan struct{}),
	}
	if s.rateLimiter != nil {
		go s.pruneRateLimiter(10 * time.Minute)
	}
	return s, nil
}

func (s *Server) pruneRateLimiter(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.rateLimiter.Prune(24 * time.Hour); n > 0 {
				s.logger.Debug("pruned idle rate limit entries", "count", n)
			}
		case <-s.stopJanitor:
			return
		}
	}
}

// Close cancels any live scan and stops background work. It is safe to call twice.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopJanitor)
		s.facade.Cancel()
	})
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/formats", s.corsMiddleware(s.formatsHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.rateLimitMiddleware(s.scanHandler)))
	mux.HandleFunc("/scan/cancel", s.corsMiddleware(s.cancelHandler))
	mux.HandleFunc("/decode", s.corsMiddleware(s.rateLimitMiddleware(s.decodeHandler)))
	mux.HandleFunc("/decode/batch", s.corsMiddleware(s.rateLimitMiddleware(s.decodeBatchHandler)))
	mux.HandleFunc("/encode", s.corsMiddleware(s.rateLimitMiddleware(s.encodeHandler)))
	mux.Handle("/metrics", promhttp.Handler())
	// WebSocket upgrades need the raw ResponseWriter, so these skip the middleware.
	mux.HandleFunc("/ws/decode", s.decodeWebSocketHandler)
	if s.remote != nil {
		mux.Handle("/ws/device", s.remote)
	}
}
