package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/config"
	"github.com/MeKo-Tech/scanbridge/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan and encode API",
	Long: `Start an HTTP server exposing the bridge.

The server provides the following endpoints:
  POST /scan          - Run one scan on the configured adapter
  POST /scan/cancel   - Cancel the running scan
  POST /decode        - Decode an uploaded image
  POST /decode/batch  - Decode several images in parallel
  POST /encode        - Render a barcode
  GET  /formats       - List barcode formats
  GET  /health        - Health check
  GET  /metrics       - Prometheus metrics
  GET  /ws/decode     - WebSocket decode and scan stream
  GET  /ws/device     - Remote capture device (adapter "remote")

Examples:
  scanbridge serve
  scanbridge serve --port 8080 --adapter remote
  scanbridge serve --host 0.0.0.0 --rate-limit-enabled`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("adapter", "", "capture adapter for /scan: dir, pdf, prompt or remote (default from scanner.adapter)")
	serveCmd.Flags().String("frame-dir", "", "directory watched by the dir adapter")
	serveCmd.Flags().StringSlice("files", nil, "image files scanned by the files adapter")
	serveCmd.Flags().Bool("remote-devices", true, "accept remote capture devices on /ws/device")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 10000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 500, "maximum data processed per day per client (MB)")
}

// applyServeFlags folds explicitly set serve flags into cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("host") {
		cfg.Server.Host, _ = fl.GetString("host")
	}
	if fl.Changed("port") {
		cfg.Server.Port, _ = fl.GetInt("port")
	}
	if fl.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = fl.GetString("cors-origin")
	}
	if fl.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = fl.GetInt("max-upload-size")
	}
	if fl.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = fl.GetInt("timeout")
	}
	if fl.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = fl.GetInt("shutdown-timeout")
	}
	if fl.Changed("adapter") {
		cfg.Scanner.Adapter, _ = fl.GetString("adapter")
	}
	if fl.Changed("frame-dir") {
		cfg.Scanner.FrameDir, _ = fl.GetString("frame-dir")
	}
	if fl.Changed("remote-devices") {
		cfg.Server.RemoteDevices, _ = fl.GetBool("remote-devices")
	}
	rl := &cfg.Server.RateLimit
	if fl.Changed("rate-limit-enabled") {
		rl.Enabled, _ = fl.GetBool("rate-limit-enabled")
	}
	if fl.Changed("requests-per-minute") {
		rl.RequestsPerMinute, _ = fl.GetInt("requests-per-minute")
	}
	if fl.Changed("requests-per-hour") {
		rl.RequestsPerHour, _ = fl.GetInt("requests-per-hour")
	}
	if fl.Changed("max-requests-per-day") {
		rl.MaxRequestsPerDay, _ = fl.GetInt("max-requests-per-day")
	}
	if fl.Changed("max-data-per-day") {
		rl.MaxDataPerDayMB, _ = fl.GetInt64("max-data-per-day")
	}
}

// newServer builds the API server for cfg. The returned cleanup stops adapter
// goroutines after the server is closed.
func newServer(cmd *cobra.Command, cfg *config.Config, files []string) (*server.Server, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.Default()

	var (
		remote  *adapter.RemoteAdapter
		f       *bridge.Facade
		cleanup func()
		err     error
	)
	origin := func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return cfg.Server.CORSOrigin == "*" || o == "" || o == cfg.Server.CORSOrigin
	}

	if cfg.Scanner.Adapter == adapter.NameRemote {
		if !cfg.Server.RemoteDevices {
			return nil, nil, errors.New("adapter \"remote\" requires server.remote_devices")
		}
		remote = adapter.NewRemoteAdapter(logger, origin)
		f, err = newRemoteFacade(cfg, remote, logger)
		cleanup = func() { f.Cancel() }
	} else {
		f, cleanup, err = newFacade(cfg, adapterSettings{
			name:  cfg.Scanner.Adapter,
			files: files,
			in:    cmd.InOrStdin(),
			out:   cmd.ErrOrStderr(),
		}, logger)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize bridge: %w", err)
	}

	srv, err := server.NewServer(server.Config{
		Facade:      f,
		Remote:      remote,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		Workers:     cfg.Batch.Workers,
		Frame:       cfg.FrameOptions(),
		RateLimit:   cfg.Server.RateLimit,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	return srv, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	applyServeFlags(cmd, cfg)
	files, _ := cmd.Flags().GetStringSlice("files")

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiServer, cleanup, err := newServer(cmd, cfg, files)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	apiServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// Scans and WebSocket streams hold the connection open, so only the
		// headers get a deadline.
		IdleTimeout: 2 * time.Minute,
	}

	go func() {
		slog.Info("Starting scanbridge server",
			"host", cfg.Server.Host, "port", cfg.Server.Port, "adapter", cfg.Scanner.Adapter)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Close the bridge first so scans blocked in handlers return.
	slog.Info("Cancelling active scans")
	if err := apiServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}

	slog.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}
