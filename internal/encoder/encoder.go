// Package encoder renders barcode images and hands them back as base64 data URIs.
//
// QR codes are produced with go-qrcode, every other symbology with
// boombuler/barcode.
package encoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	bc "github.com/boombuler/barcode"
	"github.com/boombuler/barcode/aztec"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/datamatrix"
	"github.com/boombuler/barcode/ean"
	"github.com/boombuler/barcode/pdf417"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
)

// aztecECPercent is the minimum error correction share for Aztec symbols.
const aztecECPercent = 33

// MaxSize is the largest edge length, in pixels, an image may be rendered at.
const MaxSize = 4096

// DataURIPrefix prefixes every image returned by Encode.
const DataURIPrefix = "data:image/png;base64,"

// ErrUnsupportedFormat is returned for symbologies no encoder is linked for.
var ErrUnsupportedFormat = errors.New("encoder: unsupported format")

// ErrSizeTooLarge is returned when the requested edge length exceeds MaxSize.
var ErrSizeTooLarge = errors.New("encoder: size too large")

// Encoder renders data into a PNG data URI.
type Encoder interface {
	Encode(data string, opts Options) (string, error)
	Defaults() Options
}

// ImageEncoder is the default Encoder.
type ImageEncoder struct {
	defaults Options
}

// New returns an ImageEncoder. Zero fields in defaults take DefaultOptions values.
func New(defaults Options) *ImageEncoder {
	d := DefaultOptions()
	if defaults.Size > 0 {
		d.Size = defaults.Size
	}
	if defaults.Foreground != nil {
		d.Foreground = defaults.Foreground
	}
	if defaults.Background != nil {
		d.Background = defaults.Background
	}
	if defaults.Format != barcode.FormatNone {
		d.Format = defaults.Format
	}
	if defaults.Recovery != "" {
		d.Recovery = defaults.Recovery
	}
	return &ImageEncoder{defaults: d}
}

// Defaults returns the options used for zero fields.
func (e *ImageEncoder) Defaults() Options { return e.defaults }

// Encode renders data and returns a data URI.
func (e *ImageEncoder) Encode(data string, opts Options) (string, error) {
	pngBytes, err := e.EncodePNG(data, opts)
	if err != nil {
		return "", err
	}
	return DataURI(pngBytes), nil
}

// EncodePNG renders data and returns the raw PNG bytes.
func (e *ImageEncoder) EncodePNG(data string, opts Options) ([]byte, error) {
	if data == "" {
		return nil, errors.New("encoder: empty data")
	}
	opts = e.fill(opts)
	if opts.Size > MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, opts.Size, MaxSize)
	}

	if opts.Format == barcode.FormatQR {
		return encodeQR(data, opts)
	}

	img, err := encodeOther(data, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, colorize(img, opts.Foreground, opts.Background)); err != nil {
		return nil, fmt.Errorf("encoder: png: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *ImageEncoder) fill(opts Options) Options {
	if opts.Size <= 0 {
		opts.Size = e.defaults.Size
	}
	if opts.Foreground == nil {
		opts.Foreground = e.defaults.Foreground
	}
	if opts.Background == nil {
		opts.Background = e.defaults.Background
	}
	if opts.Format == barcode.FormatNone {
		opts.Format = e.defaults.Format
	}
	if opts.Recovery == "" {
		opts.Recovery = e.defaults.Recovery
	}
	return opts
}

func encodeQR(data string, opts Options) ([]byte, error) {
	q, err := qrcode.New(data, recoveryLevel(opts.Recovery))
	if err != nil {
		return nil, fmt.Errorf("encoder: qr: %w", err)
	}
	q.ForegroundColor = opts.Foreground
	q.BackgroundColor = opts.Background
	out, err := q.PNG(opts.Size)
	if err != nil {
		return nil, fmt.Errorf("encoder: qr png: %w", err)
	}
	return out, nil
}

func recoveryLevel(s string) qrcode.RecoveryLevel {
	switch s {
	case "L":
		return qrcode.Low
	case "Q":
		return qrcode.High
	case "H":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

func encodeOther(data string, opts Options) (image.Image, error) {
	var (
		code bc.Barcode
		err  error
	)
	oneD := true
	switch opts.Format {
	case barcode.FormatCode128:
		code, err = code128.Encode(data)
	case barcode.FormatCode39:
		code, err = code39.Encode(data, false, true)
	case barcode.FormatEAN13:
		if n := len(data); n != 12 && n != 13 {
			return nil, fmt.Errorf("encoder: EAN_13 needs 12 or 13 digits, got %d", n)
		}
		code, err = ean.Encode(data)
	case barcode.FormatEAN8:
		if n := len(data); n != 7 && n != 8 {
			return nil, fmt.Errorf("encoder: EAN_8 needs 7 or 8 digits, got %d", n)
		}
		code, err = ean.Encode(data)
	case barcode.FormatDataMatrix:
		oneD = false
		code, err = datamatrix.Encode(data)
	case barcode.FormatPDF417:
		code, err = pdf417.Encode(data, 2)
	case barcode.FormatAztec:
		oneD = false
		code, err = aztec.Encode([]byte(data), aztecECPercent, 0)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoder: %s: %w", opts.Format, err)
	}

	w, h := opts.Size, opts.Size
	if oneD {
		h = max(opts.Size/2, 1)
	}
	b := code.Bounds()
	w = max(w, b.Dx())
	h = max(h, b.Dy())
	scaled, err := bc.Scale(code, w, h)
	if err != nil {
		return nil, fmt.Errorf("encoder: scale %s: %w", opts.Format, err)
	}
	return scaled, nil
}

// colorize maps dark modules to fg and light ones to bg, adding a quiet zone so
// decoders can find the symbol edges.
func colorize(img image.Image, fg, bg color.Color) image.Image {
	const quiet = 16
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx()+2*quiet, b.Dy()+2*quiet))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx(); x++ {
			out.Set(x, y, bg)
		}
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray := color.GrayModel.Convert(img.At(x, y)).(color.Gray) //nolint:forcetypeassert // GrayModel always returns color.Gray
			if gray.Y < 128 {
				out.Set(x-b.Min.X+quiet, y-b.Min.Y+quiet, fg)
			}
		}
	}
	return out
}

// DataURI wraps PNG bytes in a data URI.
func DataURI(pngBytes []byte) string {
	return DataURIPrefix + base64.StdEncoding.EncodeToString(pngBytes)
}

// DecodeDataURI is the inverse of DataURI. Bare base64 without the prefix is
// accepted too.
func DecodeDataURI(uri string) ([]byte, error) {
	payload := uri
	if rest, ok := strings.CutPrefix(uri, DataURIPrefix); ok {
		payload = rest
	} else if i := strings.IndexByte(uri, ','); i >= 0 && strings.HasPrefix(uri, "data:") {
		payload = uri[i+1:]
	}
	out, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("encoder: invalid base64 image: %w", err)
	}
	return out, nil
}
