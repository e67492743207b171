package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.JPEG", true},
		{"c.png", true},
		{"d.bmp", true},
		{"e.gif", true},
		{"f.tiff", false},
		{"g.pdf", false},
	}
	for _, c := range cases {
		if IsSupportedImage(c.path) != c.ok {
			t.Fatalf("IsSupportedImage(%s) expected %v", c.path, c.ok)
		}
	}
}

func encodePNG(t *testing.T, w, h int, col color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadImageAndMetadata(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "frame.png")
	require.NoError(t, os.WriteFile(p, encodePNG(t, 10, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255}), 0o600))

	img, meta, err := LoadImage(p)
	if err != nil {
		t.Fatalf("LoadImage error: %v", err)
	}
	if img == nil {
		t.Fatalf("nil image")
	}
	if meta.Format != "png" {
		t.Fatalf("expected format png, got %s", meta.Format)
	}
	if meta.Width != 10 || meta.Height != 20 {
		t.Fatalf("unexpected dims: %dx%d", meta.Width, meta.Height)
	}
	if meta.SizeBytes <= 0 || meta.Path != p {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	require.Error(t, err)

	_, _, err = LoadImage("scan.tiff")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	require.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	require.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImageBytes(t *testing.T) {
	img, meta, err := DecodeImageBytes(encodePNG(t, 4, 3, color.White))
	require.NoError(t, err)
	require.Equal(t, 4, img.Bounds().Dx())
	require.Equal(t, "png", meta.Format)

	_, _, err = DecodeImageBytes(nil)
	require.Error(t, err)
}
