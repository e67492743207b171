package barcode

import (
	"context"
	"errors"
	"image"
	"slices"

	"github.com/liyue201/goqr"
)

// goqrBackend recognizes QR codes only. Format filters that exclude QR make it
// report ErrNotFound without looking at the image.
type goqrBackend struct{}

func (b *goqrBackend) Name() string { return BackendGoqr }

func (b *goqrBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, errors.New("barcode: nil image")
	}
	if len(opts.Formats) > 0 && !slices.Contains(opts.Formats, FormatQR) {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	codes, err := goqr.Recognize(img)
	if err != nil {
		if errors.Is(err, goqr.ErrNoQRCode) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(codes) == 0 {
		return nil, ErrNotFound
	}
	return []Result{{Type: FormatQR, Value: string(codes[0].Payload)}}, nil
}
