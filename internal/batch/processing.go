package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Decoder decodes one frame. *bridge.Facade satisfies it.
type Decoder interface {
	DecodeFrame(ctx context.Context, img image.Image, req bridge.ScanRequest) (bridge.ScanResult, error)
}

// Input is one image to decode. Load runs on a worker goroutine.
type Input struct {
	Name string
	Load func() (image.Image, error)
}

// FileInput loads path from disk.
func FileInput(path string) Input {
	return Input{Name: path, Load: func() (image.Image, error) {
		img, _, err := utils.LoadImage(path)
		return img, err
	}}
}

// BytesInput decodes an in-memory image.
func BytesInput(name string, data []byte) Input {
	return Input{Name: name, Load: func() (image.Image, error) {
		img, _, err := utils.DecodeImageBytes(data)
		return img, err
	}}
}

// DecodeAll decodes inputs on at most cfg.Workers goroutines and returns one
// Item per input, in input order. A frame without a symbol is recorded on its
// Item and never aborts the batch; a frame that cannot be loaded aborts it
// unless cfg.ContinueOnError is set.
func DecodeAll(ctx context.Context, dec Decoder, inputs []Input, cfg Config) ([]Item, error) {
	if dec == nil {
		return nil, errors.New("batch: decoder is nil")
	}
	workers := max(cfg.Workers, 1)
	items := make([]Item, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		g.Go(func() error {
			item, err := decodeOne(gctx, dec, in, cfg)
			items[i] = item
			if err != nil && !cfg.ContinueOnError {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// decodeOne returns a non-nil error only for failures that should stop a strict batch.
func decodeOne(ctx context.Context, dec Decoder, in Input, cfg Config) (Item, error) {
	start := time.Now()
	item := Item{File: in.Name}

	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item, err
	}

	img, err := in.Load()
	if err == nil {
		img, err = utils.PrepareFrame(img, cfg.Frame)
	}
	if err != nil {
		item.Error = err.Error()
		item.Duration = time.Since(start)
		slog.Warn("skipping unreadable image", "file", in.Name, "error", err)
		return item, fmt.Errorf("failed to load %s: %w", in.Name, err)
	}

	candidates := []image.Image{img}
	if cfg.Request.TryHarder {
		candidates = utils.Rotations(img)
	}

	var res bridge.ScanResult
	for _, frame := range candidates {
		res, err = dec.DecodeFrame(ctx, frame, cfg.Request)
		if err == nil || !errors.Is(err, barcode.ErrNotFound) {
			break
		}
	}
	item.Duration = time.Since(start)
	if err != nil {
		item.Error = err.Error()
		if errors.Is(err, bridge.ErrNativeSession) {
			slog.Debug("no symbol decoded", "file", in.Name, "error", err)
			return item, nil
		}
		return item, fmt.Errorf("decode %s: %w", in.Name, err)
	}
	item.Result = &res
	slog.Debug("decoded image", "file", in.Name, "format", res.FormatValue())
	return item, nil
}
