// Package batch decodes many images in parallel through a Decoder.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoImages is returned when discovery finds nothing to decode.
var ErrNoImages = errors.New("no image files found")

// ProcessBatch discovers the images named by paths and decodes them.
func ProcessBatch(ctx context.Context, dec Decoder, paths []string, cfg Config) (*Result, error) {
	files, err := DiscoverImageFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	inputs := make([]Input, len(files))
	for i, f := range files {
		inputs[i] = FileInput(f)
	}

	start := time.Now()
	items, err := DecodeAll(ctx, dec, inputs, cfg)
	if err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}
	return &Result{
		Items:       items,
		Duration:    time.Since(start),
		WorkerCount: max(cfg.Workers, 1),
	}, nil
}
