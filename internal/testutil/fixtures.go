package testutil

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/stretchr/testify/require"
)

// ScanFixture is one generated image and the result a scan should report.
// An empty Format marks an image without a symbol.
type ScanFixture struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Text   string `json:"text,omitempty"`
	Format string `json:"format,omitempty"`
}

// ManifestName is the file GenerateFixtures writes next to the images.
const ManifestName = "manifest.json"

// GenerateFixtures writes the standard scan images into dir and returns them.
func GenerateFixtures(t *testing.T, dir string) []ScanFixture {
	t.Helper()

	require.NoError(t, EnsureDir(dir))

	type entry struct {
		fx  ScanFixture
		img image.Image
	}
	entries := []entry{
		{
			fx:  ScanFixture{Name: "qr_hello", Text: "hello scanbridge", Format: "QR_CODE"},
			img: QRImage(t, "hello scanbridge", 256),
		},
		{
			fx: ScanFixture{Name: "qr_label", Text: "https://example.com/p/42", Format: "QR_CODE"},
			img: LabelImage(LabelConfig{
				Symbol:  QRImage(t, "https://example.com/p/42", 200),
				Caption: "Parcel 42",
				Width:   360,
				Height:  300,
			}),
		},
		{
			fx: ScanFixture{Name: "code128_label", Text: "SCAN-0042", Format: "CODE_128"},
			img: LabelImage(LabelConfig{
				Symbol:  Code128Image(t, "SCAN-0042", 320, 90),
				Caption: "SCAN-0042",
				Width:   400,
				Height:  200,
			}),
		},
		{
			fx:  ScanFixture{Name: "blank"},
			img: BlankImage(120, 120),
		},
	}

	out := make([]ScanFixture, 0, len(entries))
	for _, e := range entries {
		e.fx.File = e.fx.Name + ".png"
		SaveImage(t, e.img, filepath.Join(dir, e.fx.File))
		out = append(out, e.fx)
	}
	SaveManifest(t, dir, out)
	return out
}

// SaveManifest writes fixtures as JSON into dir.
func SaveManifest(t *testing.T, dir string, fixtures []ScanFixture) {
	t.Helper()

	data, err := json.MarshalIndent(fixtures, "", "  ")
	require.NoError(t, err, "Failed to marshal manifest")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), data, 0o600))
}

// LoadManifest reads the fixtures written by GenerateFixtures.
func LoadManifest(t *testing.T, dir string) []ScanFixture {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, ManifestName)) //nolint:gosec // G304: test fixture path
	require.NoError(t, err, "Failed to read manifest in %s", dir)

	var fixtures []ScanFixture
	require.NoError(t, json.Unmarshal(data, &fixtures), "Failed to unmarshal manifest")
	return fixtures
}

// Find returns the fixture with name.
func Find(t *testing.T, fixtures []ScanFixture, name string) ScanFixture {
	t.Helper()

	for _, fx := range fixtures {
		if fx.Name == name {
			return fx
		}
	}
	require.FailNow(t, "fixture not found", name)
	return ScanFixture{}
}

// SavePDF writes a PDF at path with one page per image file, in order.
func SavePDF(t *testing.T, path string, images ...string) {
	t.Helper()

	require.NotEmpty(t, images, "SavePDF needs at least one image")
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, api.ImportImagesFile(images, path, pdfcpu.DefaultImportConfig(), nil),
		"Failed to build PDF %s", path)
}
