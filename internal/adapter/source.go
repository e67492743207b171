// Package adapter holds the capture adapters behind bridge.Adapter: frame
// sources decoded in-process, an interactive prompt and remote devices
// connected over WebSocket.
package adapter

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Frame is one captured image.
type Frame struct {
	Image image.Image
	// Origin names where the frame came from (file path, "page 3", ...).
	Origin string
}

// FrameError reports one frame that could not be read. The source stays
// usable and the next call to Next moves on to the following frame.
type FrameError struct {
	Origin string
	Err    error
}

func (e *FrameError) Error() string { return e.Origin + ": " + e.Err.Error() }

func (e *FrameError) Unwrap() error { return e.Err }

// FrameSource stands in for a camera. Next blocks until a frame is available
// and returns io.EOF once no more frames will come.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// FileSource yields image files in order.
type FileSource struct {
	mu    sync.Mutex
	paths []string
	pos   int
}

// NewFileSource returns a source over paths.
func NewFileSource(paths []string) *FileSource {
	return &FileSource{paths: append([]string(nil), paths...)}
}

func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	if s.pos >= len(s.paths) {
		s.mu.Unlock()
		return Frame{}, io.EOF
	}
	p := s.paths[s.pos]
	s.pos++
	s.mu.Unlock()

	img, _, err := utils.LoadImage(p)
	if err != nil {
		return Frame{}, &FrameError{Origin: p, Err: err}
	}
	return Frame{Image: img, Origin: p}, nil
}

func (s *FileSource) Close() error { return nil }

// ImageSource yields already decoded images.
type ImageSource struct {
	mu     sync.Mutex
	frames []Frame
}

// NewImageSource returns a source over frames.
func NewImageSource(frames ...Frame) *ImageSource {
	return &ImageSource{frames: frames}
}

// NewBytesSource decodes data once and serves it as a single frame.
func NewBytesSource(data []byte) (*ImageSource, error) {
	img, meta, err := utils.DecodeImageBytes(data)
	if err != nil {
		return nil, err
	}
	return NewImageSource(Frame{Image: img, Origin: "memory:" + meta.Format}), nil
}

func (s *ImageSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *ImageSource) Close() error { return nil }
