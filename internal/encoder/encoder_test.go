package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
)

func decodePNG(t *testing.T, uri string) image.Image {
	t.Helper()
	raw, err := DecodeDataURI(uri)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestEncode_QRDataURIRoundTrip(t *testing.T) {
	enc := New(Options{})
	uri, err := enc.Encode("https://example.com/item/42", Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, DataURIPrefix))

	img := decodePNG(t, uri)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())

	for _, name := range []string{barcode.BackendGozxing, barcode.BackendGoqr} {
		t.Run(name, func(t *testing.T) {
			be, err := barcode.NewBackend(name)
			require.NoError(t, err)
			res, err := be.Decode(context.Background(), img, barcode.Options{})
			require.NoError(t, err)
			require.NotEmpty(t, res)
			assert.Equal(t, "https://example.com/item/42", res[0].Value)
			assert.Equal(t, barcode.FormatQR, res[0].Type)
		})
	}
}

func TestEncode_OneDimensionalRoundTrip(t *testing.T) {
	cases := []struct {
		format barcode.Format
		data   string
		want   string
	}{
		{barcode.FormatCode128, "SCAN-2024-0042", "SCAN-2024-0042"},
		{barcode.FormatEAN13, "590123412345", "5901234123457"},
	}
	be, err := barcode.NewBackend(barcode.BackendGozxing)
	require.NoError(t, err)

	enc := New(Options{Size: 400})
	for _, c := range cases {
		t.Run(c.format.String(), func(t *testing.T) {
			uri, err := enc.Encode(c.data, Options{Format: c.format})
			require.NoError(t, err)
			img := decodePNG(t, uri)

			res, err := be.Decode(context.Background(), img, barcode.Options{
				Formats:   []barcode.Format{c.format},
				TryHarder: true,
			})
			require.NoError(t, err)
			require.NotEmpty(t, res)
			assert.Equal(t, c.want, res[0].Value)
			assert.Equal(t, c.format, res[0].Type)
		})
	}
}

func TestEncode_OtherFormats(t *testing.T) {
	enc := New(Options{})
	for _, f := range []barcode.Format{barcode.FormatDataMatrix, barcode.FormatPDF417, barcode.FormatAztec, barcode.FormatCode39} {
		t.Run(f.String(), func(t *testing.T) {
			uri, err := enc.Encode("HELLO 123", Options{Format: f})
			require.NoError(t, err)
			img := decodePNG(t, uri)
			assert.Positive(t, img.Bounds().Dx())
			assert.Positive(t, img.Bounds().Dy())
		})
	}
}

func TestEncode_Colors(t *testing.T) {
	enc := New(Options{})
	fg := color.RGBA{R: 200, A: 255}
	bg := color.RGBA{G: 220, B: 220, A: 255}
	uri, err := enc.Encode("colored", Options{Foreground: fg, Background: bg, Size: 128})
	require.NoError(t, err)
	img := decodePNG(t, uri)

	// The corner is always quiet zone.
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(220), g>>8)
	assert.Equal(t, uint32(220), b>>8)

	var sawForeground bool
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y && !sawForeground; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if r>>8 == 200 && g == 0 {
				sawForeground = true
				break
			}
		}
	}
	assert.True(t, sawForeground, "expected foreground modules")
}

func TestEncode_Errors(t *testing.T) {
	enc := New(Options{})

	_, err := enc.Encode("", Options{})
	require.Error(t, err)

	_, err = enc.Encode("abc", Options{Format: barcode.FormatMaxiCode})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = enc.Encode("123", Options{Format: barcode.FormatEAN13})
	require.Error(t, err)
}

func TestEncode_SizeLimit(t *testing.T) {
	enc := New(Options{})

	for _, format := range []barcode.Format{barcode.FormatQR, barcode.FormatCode128} {
		_, err := enc.Encode("12345678", Options{Size: 200000, Format: format})
		require.ErrorIs(t, err, ErrSizeTooLarge, format.String())
		assert.Contains(t, err.Error(), "200000 > 4096")
	}

	uri, err := enc.Encode("edge", Options{Size: MaxSize})
	require.NoError(t, err)
	assert.Equal(t, MaxSize, decodePNG(t, uri).Bounds().Dx())

	_, err = enc.Encode("req", ParseOptions(map[string]any{"size": float64(200000)}, enc.Defaults()))
	require.ErrorIs(t, err, ErrSizeTooLarge)
}

func TestNew_FillsDefaults(t *testing.T) {
	enc := New(Options{Size: 512})
	d := enc.Defaults()
	assert.Equal(t, 512, d.Size)
	assert.Equal(t, barcode.FormatQR, d.Format)
	assert.Equal(t, "M", d.Recovery)
	assert.NotNil(t, d.Foreground)
	assert.NotNil(t, d.Background)
}

func TestParseOptions(t *testing.T) {
	base := DefaultOptions()
	got := ParseOptions(map[string]any{
		"size":       float64(300),
		"foreground": "#ff0000",
		"colorLight": "00ff00",
		"format":     "code128",
		"recovery":   "h",
		"unknown":    true,
	}, base)

	assert.Equal(t, 300, got.Size)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, got.Foreground)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, got.Background)
	assert.Equal(t, barcode.FormatCode128, got.Format)
	assert.Equal(t, "H", got.Recovery)

	assert.Equal(t, base, ParseOptions(nil, base))

	bad := ParseOptions(map[string]any{"size": "huge", "foreground": "#zz", "format": "nope"}, base)
	assert.Equal(t, base, bad)
}

func TestParseOptions_SizeOutOfRange(t *testing.T) {
	base := DefaultOptions()
	tests := []struct {
		name string
		size any
		want int
	}{
		{"float overflow", 1e300, base.Size},
		{"negative float overflow", -1e300, base.Size},
		{"infinity", math.Inf(1), base.Size},
		{"nan", math.NaN(), base.Size},
		{"int64 overflow", int64(math.MaxInt64), base.Size},
		{"negative", -5, base.Size},
		{"zero", 0, base.Size},
		{"past max is kept for rejection", float64(MaxSize + 1), MaxSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOptions(map[string]any{"size": tt.size}, base)
			assert.Equal(t, tt.want, got.Size)
		})
	}
}

func TestParseHexColor(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0x12, G: 0x34, B: 0x56, A: 255}, ParseHexColor("#123456"))
	assert.Equal(t, color.RGBA{R: 0xab, G: 0xcd, B: 0xef, A: 255}, ParseHexColor("abcdef"))
	assert.Nil(t, ParseHexColor(""))
	assert.Nil(t, ParseHexColor("#12345"))
	assert.Nil(t, ParseHexColor("#gggggg"))
}

func TestDecodeDataURI(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	got, err := DecodeDataURI(DataURI(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURI("data:image/jpeg;base64,iVBORw==")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURI("iVBORw==")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeDataURI("!!!")
	require.Error(t, err)
}
