package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// QRImage renders text as a QR symbol of size x size pixels.
func QRImage(t *testing.T, text string, size int) image.Image {
	t.Helper()

	q, err := qrcode.New(text, qrcode.Medium)
	require.NoError(t, err, "Failed to encode QR %q", text)
	return q.Image(size)
}

// Code128Image renders text as a Code 128 symbol.
func Code128Image(t *testing.T, text string, width, height int) image.Image {
	t.Helper()

	bc, err := code128.Encode(text)
	require.NoError(t, err, "Failed to encode Code128 %q", text)
	scaled, err := barcode.Scale(bc, width, height)
	require.NoError(t, err, "Failed to scale Code128")
	return scaled
}

// LabelConfig describes a synthetic label: a symbol on a canvas with an
// optional caption underneath, like a shipping label photographed flat.
type LabelConfig struct {
	Symbol     image.Image
	Caption    string
	Width      int
	Height     int
	Background color.Color
	Foreground color.Color
	Rotation   float64 // degrees, counter-clockwise
}

// LabelImage composes a label.
func LabelImage(cfg LabelConfig) *image.RGBA {
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	if cfg.Foreground == nil {
		cfg.Foreground = color.Black
	}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	captionHeight := 0
	if cfg.Caption != "" {
		captionHeight = face.Metrics().Height.Ceil() * 2
	}

	if cfg.Symbol != nil {
		sb := cfg.Symbol.Bounds()
		x := (cfg.Width - sb.Dx()) / 2
		y := (cfg.Height - captionHeight - sb.Dy()) / 2
		draw.Draw(img, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()), cfg.Symbol, sb.Min, draw.Src)
	}

	if cfg.Caption != "" {
		drawer := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: face}
		w := font.MeasureString(face, cfg.Caption).Ceil()
		drawer.Dot = fixed.P((cfg.Width-w)/2, cfg.Height-captionHeight/2)
		drawer.DrawString(cfg.Caption)
	}

	if cfg.Rotation != 0 {
		rotated := imaging.Rotate(img, cfg.Rotation, cfg.Background)
		rgba := image.NewRGBA(rotated.Bounds())
		draw.Draw(rgba, rgba.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
		return rgba
	}
	return img
}

// BlankImage returns a uniformly white image.
func BlankImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// PNGBytes encodes img as PNG.
func PNGBytes(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage writes img as PNG to path, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, PNGBytes(t, img), 0o600), "Failed to write %s", path)
}
