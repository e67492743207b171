package support

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastOutput    string
	LastError     error
	LastExitCode  int
	LastStartTime time.Time
	LastDuration  time.Duration

	// Test environment
	FixtureDir string
	TempDir    string
	originalWD string
	envRestore map[string]*string

	// Server state
	HTTPTestServer *HTTPTestServerWrapper
	Device         *DeviceClient
	pendingScan    chan httpResult

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a context that works in a fresh temporary directory.
// fixtureDir holds the generated scan images.
func NewTestContext(fixtureDir string) (*TestContext, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "scanbridge-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx := &TestContext{
		FixtureDir: fixtureDir,
		TempDir:    tempDir,
		originalWD: workingDir,
		envRestore: make(map[string]*string),
	}

	// No stray scanbridge.yaml from the developer's machine may leak in.
	for name, value := range map[string]string{"HOME": tempDir, "XDG_CONFIG_HOME": tempDir} {
		if err := ctx.setEnv(name, value); err != nil {
			return nil, err
		}
	}
	if err := os.Chdir(tempDir); err != nil {
		return nil, fmt.Errorf("failed to enter temp directory: %w", err)
	}
	return ctx, nil
}

// Cleanup stops servers, restores the process environment and removes the
// temporary directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop server: %w", err))
	}

	for name, value := range testCtx.envRestore {
		var err error
		if value == nil {
			err = os.Unsetenv(name)
		} else {
			err = os.Setenv(name, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", name, err))
		}
	}

	if err := os.Chdir(testCtx.originalWD); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore working directory: %w", err))
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	return errors.Join(errs...)
}

// setEnv sets a process environment variable and remembers the previous
// value for Cleanup.
func (testCtx *TestContext) setEnv(name, value string) error {
	if _, seen := testCtx.envRestore[name]; !seen {
		if old, ok := os.LookupEnv(name); ok {
			testCtx.envRestore[name] = &old
		} else {
			testCtx.envRestore[name] = nil
		}
	}
	return os.Setenv(name, value)
}

// fixturePath resolves a generated fixture by file name.
func (testCtx *TestContext) fixturePath(name string) (string, error) {
	path := filepath.Join(testCtx.FixtureDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("fixture not found: %s", path)
	}
	return path, nil
}

// tempPath resolves name inside the scenario directory.
func (testCtx *TestContext) tempPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// substituteCommandVariables replaces {fixtures} and {tmp} in command strings.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	command = strings.ReplaceAll(command, "{fixtures}", testCtx.FixtureDir)
	return strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
}
