//nolint:lll
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Config represents the complete configuration for scanbridge.
// It includes settings for all commands (scan, encode, decode, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner" json:"scanner"`
	Encoder EncoderConfig `mapstructure:"encoder" yaml:"encoder" json:"encoder"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch decoding configuration (for decode command)
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// ScannerConfig selects the capture adapter and how frames are decoded.
type ScannerConfig struct {
	Adapter         string   `mapstructure:"adapter" yaml:"adapter" json:"adapter"`
	Decoder         string   `mapstructure:"decoder" yaml:"decoder" json:"decoder"`
	Formats         []string `mapstructure:"formats" yaml:"formats" json:"formats"`
	TryHarder       bool     `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	MaxFrameSize    int      `mapstructure:"max_frame_size" yaml:"max_frame_size" json:"max_frame_size"`
	MinFrameSize    int      `mapstructure:"min_frame_size" yaml:"min_frame_size" json:"min_frame_size"`
	Grayscale       bool     `mapstructure:"grayscale" yaml:"grayscale" json:"grayscale"`
	Contrast        float64  `mapstructure:"contrast" yaml:"contrast" json:"contrast"`
	AckTimeoutMs    int      `mapstructure:"ack_timeout_ms" yaml:"ack_timeout_ms" json:"ack_timeout_ms"`
	FrameDir        string   `mapstructure:"frame_dir" yaml:"frame_dir" json:"frame_dir"`
	IncludeExisting bool     `mapstructure:"include_existing" yaml:"include_existing" json:"include_existing"`
	PDFPages        string   `mapstructure:"pdf_pages" yaml:"pdf_pages" json:"pdf_pages"`
	PDFPassword     string   `mapstructure:"pdf_password" yaml:"pdf_password" json:"pdf_password"`
	Prompt          string   `mapstructure:"prompt" yaml:"prompt" json:"prompt"`
	NormalizeText   bool     `mapstructure:"normalize_text" yaml:"normalize_text" json:"normalize_text"`
}

// EncoderConfig holds the defaults for generated symbols.
type EncoderConfig struct {
	Size       int    `mapstructure:"size" yaml:"size" json:"size"`
	Foreground string `mapstructure:"foreground" yaml:"foreground" json:"foreground"`
	Background string `mapstructure:"background" yaml:"background" json:"background"`
	Recovery   string `mapstructure:"recovery" yaml:"recovery" json:"recovery"`
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RemoteDevices   bool            `mapstructure:"remote_devices" yaml:"remote_devices" json:"remote_devices"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains batch decoding settings.
type BatchConfig struct {
	Workers         int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include         []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
	Format          string   `mapstructure:"format" yaml:"format" json:"format"`
	ContinueOnError bool     `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// Adapter names accepted in scanner.adapter.
var validAdapters = []string{"files", "dir", "pdf", "prompt", "remote"}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	frame := utils.DefaultFrameOptions()
	enc := encoder.DefaultOptions()
	return Config{
		LogLevel: "info",
		Scanner: ScannerConfig{
			Adapter:      "files",
			Decoder:      barcode.BackendGozxing,
			MaxFrameSize: frame.MaxSize,
			MinFrameSize: frame.MinSize,
			Grayscale:    frame.Grayscale,
			Contrast:     frame.Contrast,
			AckTimeoutMs: int(bridge.DefaultAckTimeout / time.Millisecond),
		},
		Encoder: EncoderConfig{
			Size:       enc.Size,
			Foreground: "#000000",
			Background: "#FFFFFF",
			Recovery:   enc.Recovery,
			Format:     enc.Format.String(),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      60,
			ShutdownTimeout: 10,
			RemoteDevices:   true,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 10000,
				MaxDataPerDayMB:   500,
			},
		},
		Batch: BatchConfig{
			Workers: 4,
			Format:  "text",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if !slices.Contains(validAdapters, c.Scanner.Adapter) {
		return fmt.Errorf("invalid scanner adapter: %s (must be one of: %s)", c.Scanner.Adapter, strings.Join(validAdapters, ", "))
	}
	if _, err := barcode.NewBackend(c.Scanner.Decoder); err != nil {
		return fmt.Errorf("invalid scanner decoder: %w", err)
	}
	for _, f := range c.Scanner.Formats {
		if _, ok := barcode.ParseFormat(f); !ok {
			return fmt.Errorf("invalid scanner format: %s", f)
		}
	}
	if c.Scanner.AckTimeoutMs <= 0 {
		return fmt.Errorf("invalid ack timeout: %d (must be positive)", c.Scanner.AckTimeoutMs)
	}
	if c.Scanner.MaxFrameSize < 0 || c.Scanner.MinFrameSize < 0 {
		return fmt.Errorf("invalid frame size bounds: min %d, max %d", c.Scanner.MinFrameSize, c.Scanner.MaxFrameSize)
	}
	if c.Scanner.Contrast < -100 || c.Scanner.Contrast > 100 {
		return fmt.Errorf("invalid contrast: %.1f (must be between -100 and 100)", c.Scanner.Contrast)
	}

	if c.Encoder.Size <= 0 || c.Encoder.Size > encoder.MaxSize {
		return fmt.Errorf("invalid encoder size: %d (must be between 1 and %d)", c.Encoder.Size, encoder.MaxSize)
	}
	for name, hex := range map[string]string{"foreground": c.Encoder.Foreground, "background": c.Encoder.Background} {
		if hex != "" && encoder.ParseHexColor(hex) == nil {
			return fmt.Errorf("invalid encoder %s color: %s", name, hex)
		}
	}
	if c.Encoder.Recovery != "" && !slices.Contains([]string{"L", "M", "Q", "H"}, strings.ToUpper(c.Encoder.Recovery)) {
		return fmt.Errorf("invalid encoder recovery level: %s (must be one of: L, M, Q, H)", c.Encoder.Recovery)
	}
	if c.Encoder.Format != "" {
		if _, ok := barcode.ParseFormat(c.Encoder.Format); !ok {
			return fmt.Errorf("invalid encoder format: %s", c.Encoder.Format)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if rl := c.Server.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.RequestsPerHour <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min, %d/hour (must be positive)", rl.RequestsPerMinute, rl.RequestsPerHour)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	validFormats := []string{"text", "json", "csv"}
	if c.Batch.Format != "" && !slices.Contains(validFormats, c.Batch.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Batch.Format, strings.Join(validFormats, ", "))
	}

	return nil
}

// FrameOptions converts the scanner settings for utils.PrepareFrame.
func (c *Config) FrameOptions() utils.FrameOptions {
	return utils.FrameOptions{
		MaxSize:   c.Scanner.MaxFrameSize,
		MinSize:   c.Scanner.MinFrameSize,
		Grayscale: c.Scanner.Grayscale,
		Contrast:  c.Scanner.Contrast,
	}
}

// AckTimeout returns the coordinator acknowledgement timeout.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Scanner.AckTimeoutMs) * time.Millisecond
}

// ScanRequest builds the default request for scans started from configuration.
func (c *Config) ScanRequest() bridge.ScanRequest {
	return bridge.ScanRequest{
		Prompt:    c.Scanner.Prompt,
		Formats:   slices.Clone(c.Scanner.Formats),
		TryHarder: c.Scanner.TryHarder,
	}
}

// EncoderOptions converts the encoder settings. Invalid values keep the
// encoder defaults.
func (c *Config) EncoderOptions() encoder.Options {
	opts := encoder.DefaultOptions()
	if c.Encoder.Size > 0 {
		opts.Size = c.Encoder.Size
	}
	if col := encoder.ParseHexColor(c.Encoder.Foreground); col != nil {
		opts.Foreground = col
	}
	if col := encoder.ParseHexColor(c.Encoder.Background); col != nil {
		opts.Background = col
	}
	if c.Encoder.Recovery != "" {
		opts.Recovery = strings.ToUpper(c.Encoder.Recovery)
	}
	if f, ok := barcode.ParseFormat(c.Encoder.Format); ok {
		opts.Format = f
	}
	return opts
}
