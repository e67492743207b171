package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Format represents a barcode symbology. The integer values follow the ZXing
// enumeration used by the native adapters, so a code received from any platform
// maps to the same canonical name.
type Format int

const (
	FormatNone Format = iota
	FormatAztec
	FormatCodabar
	FormatCode39
	FormatCode93
	FormatCode128
	FormatDataMatrix
	FormatEAN8
	FormatEAN13
	FormatITF
	FormatMaxiCode
	FormatPDF417
	FormatQR
	FormatRSS14
	FormatRSSExpanded
	FormatUPCA
	FormatUPCE
	FormatUPCEANExtension
)

var formatNames = [...]string{
	FormatNone:            "NONE",
	FormatAztec:           "AZTEC",
	FormatCodabar:         "CODABAR",
	FormatCode39:          "CODE_39",
	FormatCode93:          "CODE_93",
	FormatCode128:         "CODE_128",
	FormatDataMatrix:      "DATA_MATRIX",
	FormatEAN8:            "EAN_8",
	FormatEAN13:           "EAN_13",
	FormatITF:             "ITF",
	FormatMaxiCode:        "MAXICODE",
	FormatPDF417:          "PDF_417",
	FormatQR:              "QR_CODE",
	FormatRSS14:           "RSS_14",
	FormatRSSExpanded:     "RSS_EXPANDED",
	FormatUPCA:            "UPC_A",
	FormatUPCE:            "UPC_E",
	FormatUPCEANExtension: "UPC_EAN_EXTENSION",
}

// FormatName returns the canonical name for an integer format code.
// Unknown codes return ok=false instead of failing.
func FormatName(code int) (string, bool) {
	if code < 0 || code >= len(formatNames) {
		return "", false
	}
	return formatNames[code], true
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if name, ok := FormatName(int(f)); ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Valid reports whether f is a defined code.
func (f Format) Valid() bool {
	_, ok := FormatName(int(f))
	return ok
}

// ParseFormat resolves a canonical name (QR_CODE) or a short alias (qr, ean13,
// code-128) to its Format.
func ParseFormat(s string) (Format, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range formatNames {
		if name == key {
			return Format(i), true
		}
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode":
		return FormatQR, true
	case "datamatrix", "data-matrix":
		return FormatDataMatrix, true
	case "pdf417":
		return FormatPDF417, true
	case "code128", "code-128":
		return FormatCode128, true
	case "code39", "code-39":
		return FormatCode39, true
	case "code93", "code-93":
		return FormatCode93, true
	case "ean8", "ean-8":
		return FormatEAN8, true
	case "ean13", "ean-13":
		return FormatEAN13, true
	case "upca", "upc-a":
		return FormatUPCA, true
	case "upce", "upc-e":
		return FormatUPCE, true
	case "interleaved2of5", "i2/5":
		return FormatITF, true
	}
	return FormatNone, false
}

// ParseFormats parses a list of names, skipping anything unknown.
func ParseFormats(names []string) []Format {
	var out []Format
	for _, n := range names {
		if f, ok := ParseFormat(n); ok && f != FormatNone {
			out = append(out, f)
		}
	}
	return out
}

// AllFormats returns every defined format except NONE, ordered by code.
func AllFormats() []Format {
	out := make([]Format, 0, len(formatNames)-1)
	for i := 1; i < len(formatNames); i++ {
		out = append(out, Format(i))
	}
	return out
}

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means all.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool
}

// Result represents a decoded barcode.
type Result struct {
	Type  Format
	Value string
}

// ErrNotFound is returned when a frame holds no decodable symbol.
var ErrNotFound = errors.New("barcode: no barcode found")

// Backend is a pluggable barcode decoder implementation.
type Backend interface {
	Name() string
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

const (
	BackendGozxing = "gozxing"
	BackendGoqr    = "goqr"
)

// NewBackend returns the named backend. An empty name selects gozxing.
func NewBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendGozxing:
		return &gozxingBackend{}, nil
	case BackendGoqr:
		return &goqrBackend{}, nil
	default:
		return nil, fmt.Errorf("barcode: unknown backend %q", name)
	}
}
