package encoder

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
)

// Options controls image generation. Zero values fall back to the defaults of the
// Encoder they are passed to.
type Options struct {
	// Size is the target edge length in pixels (width for 1D symbols).
	Size int
	// Foreground and Background colors of the rendered symbol.
	Foreground color.Color
	Background color.Color
	// Format selects the symbology; QR_CODE when unset.
	Format barcode.Format
	// Recovery is the QR error correction level: L, M, Q or H.
	Recovery string
}

// DefaultOptions mirrors the 256px black-on-white QR code of the native plugins.
func DefaultOptions() Options {
	return Options{
		Size:       256,
		Foreground: color.Black,
		Background: color.White,
		Format:     barcode.FormatQR,
		Recovery:   "M",
	}
}

// ParseOptions reads the caller-supplied option map on top of base. Unknown keys
// and values of the wrong type are ignored; the map is never validated as a whole.
// Sizes past MaxSize are kept so that EncodePNG can reject them.
func ParseOptions(m map[string]any, base Options) Options {
	opts := base
	if m == nil {
		return opts
	}

	if v, ok := intValue(m["size"]); ok && v > 0 {
		opts.Size = v
	} else if v, ok := intValue(m["width"]); ok && v > 0 {
		opts.Size = v
	}
	if s, ok := m["foreground"].(string); ok {
		if c := ParseHexColor(s); c != nil {
			opts.Foreground = c
		}
	} else if s, ok := m["colorDark"].(string); ok {
		if c := ParseHexColor(s); c != nil {
			opts.Foreground = c
		}
	}
	if s, ok := m["background"].(string); ok {
		if c := ParseHexColor(s); c != nil {
			opts.Background = c
		}
	} else if s, ok := m["colorLight"].(string); ok {
		if c := ParseHexColor(s); c != nil {
			opts.Background = c
		}
	}
	if s, ok := m["format"].(string); ok {
		if f, ok := barcode.ParseFormat(s); ok && f != barcode.FormatNone {
			opts.Format = f
		}
	}
	if s, ok := m["recovery"].(string); ok && s != "" {
		opts.Recovery = strings.ToUpper(s)
	}
	return opts
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float64:
		if math.IsNaN(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// ParseHexColor parses colors like "#RRGGBB" or "RRGGBB".
func ParseHexColor(s string) color.Color {
	if s == "" {
		return nil
	}
	if s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return nil
	}
	var rv, gv, bv int
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &rv, &gv, &bv); err != nil {
		return nil
	}
	return color.RGBA{uint8(rv), uint8(gv), uint8(bv), 255} //nolint:gosec // G115: values are two hex digits
}
