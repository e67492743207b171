package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader() *Loader {
	return NewLoaderWith(viper.New())
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	require.NotNil(t, l)
	assert.Same(t, viper.GetViper(), l.Viper())
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	assert.Equal(t, def.Scanner.Adapter, cfg.Scanner.Adapter)
	assert.Equal(t, def.Encoder, cfg.Encoder)
	assert.Equal(t, def.Server, cfg.Server)
	assert.Empty(t, cfg.Scanner.Formats)
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeConfig(t, dir, `
log_level: debug
scanner:
  adapter: dir
  frame_dir: /var/spool/frames
  formats: [QR_CODE, EAN_13]
server:
  port: 9090
`)

	l := newTestLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "dir", cfg.Scanner.Adapter)
	assert.Equal(t, "/var/spool/frames", cfg.Scanner.FrameDir)
	assert.Equal(t, []string{"QR_CODE", "EAN_13"}, cfg.Scanner.Formats)
	assert.Equal(t, 9090, cfg.Server.Port)
	// untouched keys keep their defaults
	assert.Equal(t, 2000, cfg.Scanner.AckTimeoutMs)
	assert.Contains(t, l.ConfigFileUsed(), ConfigFileName+".yaml")
}

func TestLoadWithFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
encoder:
  size: 512
  format: DATA_MATRIX
batch:
  workers: 8
  format: json
`)

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Encoder.Size)
	assert.Equal(t, "DATA_MATRIX", cfg.Encoder.Format)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "json", cfg.Batch.Format)
}

func TestLoadWithFile_Errors(t *testing.T) {
	_, err := newTestLoader().LoadWithFile("/non/existent/scanbridge.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	dir := t.TempDir()
	bad := writeConfig(t, dir, "scanner: [unclosed")
	_, err = newTestLoader().LoadWithFile(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("scanner:\n  adapter: camera\n"), 0o600))
	_, err = newTestLoader().LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := newTestLoader().LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "camera", cfg.Scanner.Adapter)
}

func TestLoadWithEmptyFilenameUsesSearchPaths(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := newTestLoader().LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)

	cfg, err = newTestLoader().LoadWithoutValidation()
	require.NoError(t, err)
	assert.Equal(t, "files", cfg.Scanner.Adapter)
}

func TestEnvironmentVariableOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCANBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("SCANBRIDGE_SCANNER_ACK_TIMEOUT_MS", "500")
	t.Setenv("SCANBRIDGE_SCANNER_ADAPTER", "prompt")
	t.Setenv("SCANBRIDGE_SERVER_RATE_LIMIT_ENABLED", "true")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 500, cfg.Scanner.AckTimeoutMs)
	assert.Equal(t, "prompt", cfg.Scanner.Adapter)
	assert.True(t, cfg.Server.RateLimit.Enabled)
}

func TestPrecedence_EnvOverFileOverDefault(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 9000\n  host: 0.0.0.0\n")
	t.Setenv("SCANBRIDGE_SERVER_PORT", "9100")

	l := newTestLoader()
	cfg, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	l.Set("server.port", 9200)
	assert.Equal(t, 9200, l.Get("server.port"))
}

func TestWriteDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generated.yaml")
	require.NoError(t, WriteDefaultConfigFile(path))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scanner.AckTimeoutMs, cfg.Scanner.AckTimeoutMs)
	assert.Equal(t, DefaultConfig().Encoder, cfg.Encoder)

	t.Chdir(dir)
	require.NoError(t, WriteDefaultConfigFile(""))
	assert.FileExists(t, filepath.Join(dir, ConfigFileName+".yaml"))
}

func TestSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := SearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join("/xdg", ConfigFileName))
	assert.Equal(t, "/etc/scanbridge", paths[len(paths)-1])
}

func TestResolvedSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	l := newTestLoader()
	_, err := l.Load()
	require.NoError(t, err)

	settings := l.ResolvedSettings()
	require.Contains(t, settings, "scanner")
	scanner, ok := settings["scanner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "files", scanner["adapter"])
}
