package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// gozxingBackend decodes every symbology gozxing has a reader for. gozxing
// ships no PDF_417, MAXICODE or RSS readers; PDF_417 can still be encoded, and
// a filter naming only these formats finds nothing.
type gozxingBackend struct{}

func (b *gozxingBackend) Name() string { return BackendGozxing }

// readerOrder is the probing order when no format filter is given. 2D symbologies
// go first since they are the common case for phone-style scanning.
var readerOrder = []Format{
	FormatQR,
	FormatDataMatrix,
	FormatAztec,
	FormatCode128,
	FormatCode39,
	FormatCode93,
	FormatEAN13,
	FormatEAN8,
	FormatUPCA,
	FormatUPCE,
	FormatITF,
	FormatCodabar,
}

func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, errors.New("barcode: nil image")
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("barcode: binarize: %w", err)
	}

	hints := make(map[gozxing.DecodeHintType]interface{})
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = readerOrder
	}

	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reader := newReader(f)
		if reader == nil {
			continue
		}
		r, err := reader.Decode(bmp, hints)
		if err != nil || r == nil {
			continue
		}
		return []Result{toResult(r)}, nil
	}
	return nil, ErrNotFound
}

func newReader(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatAztec:
		return aztec.NewAztecReader()
	case FormatCode128:
		return oned.NewCode128Reader()
	case FormatCode39:
		return oned.NewCode39Reader()
	case FormatCode93:
		return oned.NewCode93Reader()
	case FormatEAN8:
		return oned.NewEAN8Reader()
	case FormatEAN13:
		return oned.NewEAN13Reader()
	case FormatUPCA:
		return oned.NewUPCAReader()
	case FormatUPCE:
		return oned.NewUPCEReader()
	case FormatITF:
		return oned.NewITFReader()
	case FormatCodabar:
		return oned.NewCodaBarReader()
	default:
		return nil
	}
}

func toResult(r *gozxing.Result) Result {
	return Result{
		Type:  formatFromZXing(r.GetBarcodeFormat()),
		Value: r.GetText(),
	}
}

func formatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	case gozxing.BarcodeFormat_CODABAR:
		return FormatCodabar
	case gozxing.BarcodeFormat_CODE_39:
		return FormatCode39
	case gozxing.BarcodeFormat_CODE_93:
		return FormatCode93
	case gozxing.BarcodeFormat_CODE_128:
		return FormatCode128
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_EAN_8:
		return FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return FormatEAN13
	case gozxing.BarcodeFormat_ITF:
		return FormatITF
	case gozxing.BarcodeFormat_MAXICODE:
		return FormatMaxiCode
	case gozxing.BarcodeFormat_PDF_417:
		return FormatPDF417
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_RSS_14:
		return FormatRSS14
	case gozxing.BarcodeFormat_RSS_EXPANDED:
		return FormatRSSExpanded
	case gozxing.BarcodeFormat_UPC_A:
		return FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return FormatUPCE
	case gozxing.BarcodeFormat_UPC_EAN_EXTENSION:
		return FormatUPCEANExtension
	default:
		return FormatNone
	}
}
