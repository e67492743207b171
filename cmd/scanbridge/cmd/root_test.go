package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command in-process with args and returns the
// combined output.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	ResetState()
	t.Cleanup(ResetState)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}

// isolate runs the test in an empty directory so no stray scanbridge.yaml is
// picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "scanbridge", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)
	out, err := executeCommand(t, nil, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "capture adapters")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)
	out, err := executeCommand(t, nil, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "scanbridge dev")
}

func TestRootCommandNoArgs(t *testing.T) {
	isolate(t)
	out, err := executeCommand(t, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, expected := range []string{"scan", "encode", "decode", "formats", "serve", "config"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)
	out, err := executeCommand(t, nil, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, out, "unknown flag")
}

func TestRootCommandInvalidConfig(t *testing.T) {
	dir := isolate(t)
	path := dir + "/bad.yaml"
	require.NoError(t, writeFile(path, "log_level: trace\n"))

	_, err := executeCommand(t, nil, "formats", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestResetState(t *testing.T) {
	isolate(t)
	_, err := executeCommand(t, nil, "decode", "--workers", "3", "--format", "json", "missing.png")
	require.Error(t, err)

	ResetState()
	workers, _ := decodeCmd.Flags().GetInt("workers")
	format, _ := decodeCmd.Flags().GetString("format")
	assert.Equal(t, 0, workers)
	assert.Empty(t, format)
	assert.False(t, decodeCmd.Flags().Changed("workers"))
	assert.Nil(t, globalConfig)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
