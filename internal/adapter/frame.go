package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Adapter names.
const (
	NameFiles  = "files"
	NameDir    = "dir"
	NamePDF    = "pdf"
	NameMemory = "memory"
	NamePrompt = "prompt"
	NameRemote = "remote"
)

// NotFoundReason is reported when a source runs dry without a decodable symbol.
const NotFoundReason = "No barcode found"

// SourceFunc opens the frame source for one session.
type SourceFunc func(ctx context.Context, req bridge.ScanRequest) (FrameSource, error)

// FrameConfig configures a FrameAdapter.
type FrameConfig struct {
	Backend barcode.Backend
	Frame   utils.FrameOptions
	Logger  *slog.Logger
}

// FrameAdapter runs frames from a source through a barcode backend until one
// decodes, the source is exhausted or the session is stopped.
type FrameAdapter struct {
	name    string
	open    SourceFunc
	backend barcode.Backend
	frame   utils.FrameOptions
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[uint64]*frameSession
	wg       sync.WaitGroup
}

type frameSession struct {
	cancel  context.CancelFunc
	stopped bool
}

// NewFrameAdapter creates an adapter around open.
func NewFrameAdapter(name string, open SourceFunc, cfg FrameConfig) (*FrameAdapter, error) {
	if open == nil {
		return nil, errors.New("adapter: nil source")
	}
	be := cfg.Backend
	if be == nil {
		var err error
		if be, err = barcode.NewBackend(""); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameAdapter{
		name:     name,
		open:     open,
		backend:  be,
		frame:    cfg.Frame,
		logger:   logger.With("adapter", name),
		sessions: make(map[uint64]*frameSession),
	}, nil
}

// NewFileAdapter scans the given image files in order.
func NewFileAdapter(paths []string, cfg FrameConfig) (*FrameAdapter, error) {
	return NewFrameAdapter(NameFiles, func(context.Context, bridge.ScanRequest) (FrameSource, error) {
		if len(paths) == 0 {
			return nil, fmt.Errorf("%w: no input files", bridge.ErrNoWindowOrHardware)
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				return nil, fmt.Errorf("%w: %w", bridge.ErrNoWindowOrHardware, err)
			}
		}
		return NewFileSource(paths), nil
	}, cfg)
}

// NewDirAdapter scans images as they are written into dir.
func NewDirAdapter(dir string, includeExisting bool, cfg FrameConfig) (*FrameAdapter, error) {
	logger := cfg.Logger
	return NewFrameAdapter(NameDir, func(context.Context, bridge.ScanRequest) (FrameSource, error) {
		return OpenDir(dir, includeExisting, logger)
	}, cfg)
}

// NewPDFAdapter scans the images embedded in a PDF.
func NewPDFAdapter(path, pageRange, password string, cfg FrameConfig) (*FrameAdapter, error) {
	return NewFrameAdapter(NamePDF, pdfSourceFunc(path, pageRange, password), cfg)
}

// NewMemoryAdapter scans a single in-memory image.
func NewMemoryAdapter(data []byte, cfg FrameConfig) (*FrameAdapter, error) {
	return NewFrameAdapter(NameMemory, func(context.Context, bridge.ScanRequest) (FrameSource, error) {
		return NewBytesSource(data)
	}, cfg)
}

func (a *FrameAdapter) Name() string { return a.name }

// StartSession implements bridge.Adapter.
func (a *FrameAdapter) StartSession(ctx context.Context, id uint64, req bridge.ScanRequest, sink bridge.EventSink) error {
	src, err := a.open(ctx, req)
	if err != nil {
		return err
	}
	sctx, cancel := context.WithCancel(ctx)
	sess := &frameSession{cancel: cancel}

	a.mu.Lock()
	a.sessions[id] = sess
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(sctx, id, req, src, sink, sess)
	return nil
}

// StopSession implements bridge.Adapter.
func (a *FrameAdapter) StopSession(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sess, ok := a.sessions[id]; ok {
		sess.stopped = true
		sess.cancel()
	}
}

// Wait blocks until every session goroutine has exited.
func (a *FrameAdapter) Wait() { a.wg.Wait() }

func (a *FrameAdapter) isStopped(sess *frameSession) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sess.stopped
}

func (a *FrameAdapter) run(ctx context.Context, id uint64, req bridge.ScanRequest, src FrameSource, sink bridge.EventSink, sess *frameSession) {
	defer a.wg.Done()
	defer func() {
		if err := src.Close(); err != nil {
			a.logger.Warn("closing frame source", "request_id", id, "error", err)
		}
		a.mu.Lock()
		delete(a.sessions, id)
		a.mu.Unlock()
		sess.cancel()
	}()

	sink.Emit(bridge.Started(id))
	opts := barcode.Options{
		Formats:   barcode.ParseFormats(req.Formats),
		TryHarder: req.TryHarder,
	}

	frames := 0
	var unreadable *FrameError
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			var fe *FrameError
			switch {
			case ctx.Err() != nil:
				sink.Emit(bridge.Ended(id))
			case errors.As(err, &fe):
				a.logger.Warn("frame unreadable", "request_id", id, "origin", fe.Origin, "error", fe.Err)
				unreadable = fe
				continue
			case errors.Is(err, io.EOF) && frames == 0 && unreadable != nil:
				// Nothing could be read at all; the last read error says why.
				sink.Emit(bridge.Failed(id, unreadable.Error()))
			case errors.Is(err, io.EOF):
				a.logger.Info("source exhausted", "request_id", id, "frames", frames)
				sink.Emit(bridge.Failed(id, NotFoundReason))
			default:
				sink.Emit(bridge.Failed(id, err.Error()))
			}
			return
		}
		frames++

		res, err := a.decode(ctx, frame, opts)
		if err != nil {
			if ctx.Err() != nil {
				sink.Emit(bridge.Ended(id))
				return
			}
			if !errors.Is(err, barcode.ErrNotFound) {
				a.logger.Warn("frame skipped", "request_id", id, "origin", frame.Origin, "error", err)
			}
			continue
		}

		if a.isStopped(sess) {
			sink.Emit(bridge.Ended(id))
			return
		}
		a.logger.Debug("frame decoded", "request_id", id, "origin", frame.Origin, "format", res.Type.String())
		sink.Emit(bridge.CodeFound(id, bridge.CodePayload(res.Value, res.Type.String())))
		sink.Emit(bridge.Ended(id))
		return
	}
}

// decode prepares the frame and tries the backend, rotating the frame when
// TryHarder is set.
func (a *FrameAdapter) decode(ctx context.Context, frame Frame, opts barcode.Options) (barcode.Result, error) {
	img, err := utils.PrepareFrame(frame.Image, a.frame)
	if err != nil {
		return barcode.Result{}, err
	}
	candidates := utils.Rotations(img)
	if !opts.TryHarder {
		candidates = candidates[:1]
	}
	for _, c := range candidates {
		results, err := a.backend.Decode(ctx, c, opts)
		if err == nil && len(results) > 0 {
			return results[0], nil
		}
		if err != nil && !errors.Is(err, barcode.ErrNotFound) {
			return barcode.Result{}, err
		}
	}
	return barcode.Result{}, barcode.ErrNotFound
}
