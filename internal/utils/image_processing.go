package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// FrameOptions controls how a captured frame is prepared for decoding.
type FrameOptions struct {
	// MaxSize caps the longer edge; larger frames are downscaled. 0 disables.
	MaxSize int
	// MinSize rejects frames whose shorter edge is below it.
	MinSize int
	// Grayscale converts the frame before decoding.
	Grayscale bool
	// Contrast is passed to imaging.AdjustContrast (-100..100). 0 disables.
	Contrast float64
}

// DefaultFrameOptions suits phone-camera sized captures.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		MaxSize:   1600,
		MinSize:   16,
		Grayscale: true,
	}
}

// PrepareFrame validates and normalizes a frame. Frames are only scaled down,
// never up, and keep their aspect ratio.
func PrepareFrame(img image.Image, opts FrameOptions) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "prepare", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if opts.MinSize > 0 && (b.Dx() < opts.MinSize || b.Dy() < opts.MinSize) {
		return nil, &ImageProcessingError{
			Operation: "prepare",
			Err:       fmt.Errorf("frame %dx%d below minimum %d", b.Dx(), b.Dy(), opts.MinSize),
		}
	}

	out := img
	if opts.MaxSize > 0 && (b.Dx() > opts.MaxSize || b.Dy() > opts.MaxSize) {
		out = imaging.Fit(out, opts.MaxSize, opts.MaxSize, imaging.Lanczos)
	}
	if opts.Grayscale {
		out = imaging.Grayscale(out)
	}
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	return out, nil
}

// Rotations returns the frame followed by its 90, 180 and 270 degree rotations.
// 1D symbols printed vertically only decode after rotation.
func Rotations(img image.Image) []image.Image {
	return []image.Image{
		img,
		imaging.Rotate90(img),
		imaging.Rotate180(img),
		imaging.Rotate270(img),
	}
}

// CropImageRect crops an image to the given rectangle.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}
