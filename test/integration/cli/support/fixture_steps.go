package support

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/scanbridge/internal/testutil"
)

// RegisterFixtureSteps registers steps that prepare images, directories,
// config files and environment variables.
func (testCtx *TestContext) RegisterFixtureSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the barcode fixtures are available$`, testCtx.theBarcodeFixturesAreAvailable)
	sc.Step(`^a frame directory "([^"]*)" holding "([^"]*)"$`, testCtx.aFrameDirectoryHolding)
	sc.Step(`^a file "([^"]*)" with content "([^"]*)"$`, testCtx.aFileWithContent)
	sc.Step(`^a config file "([^"]*)" with:$`, testCtx.aConfigFileWith)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

// theBarcodeFixturesAreAvailable checks the images generated for the suite.
func (testCtx *TestContext) theBarcodeFixturesAreAvailable() error {
	if _, err := testCtx.fixturePath(testutil.ManifestName); err != nil {
		return fmt.Errorf("fixtures were not generated: %w", err)
	}
	return nil
}

// aFrameDirectoryHolding copies a fixture into a directory of the scenario.
func (testCtx *TestContext) aFrameDirectoryHolding(dir, fixture string) error {
	src, err := testCtx.fixturePath(fixture)
	if err != nil {
		return err
	}
	target := testCtx.tempPath(dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	return copyFile(src, filepath.Join(target, fixture))
}

func (testCtx *TestContext) aFileWithContent(name, content string) error {
	path := testCtx.tempPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func (testCtx *TestContext) aConfigFileWith(name string, doc *godog.DocString) error {
	return testCtx.aFileWithContent(name, doc.Content)
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	return testCtx.setEnv(name, value)
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src) //nolint:gosec // G304: Test file copy with controlled paths
	if err != nil {
		return err
	}
	defer func() { _ = sourceFile.Close() }()

	destFile, err := os.Create(dst) //nolint:gosec // G304: Test file copy with controlled paths
	if err != nil {
		return err
	}
	defer func() { _ = destFile.Close() }()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
