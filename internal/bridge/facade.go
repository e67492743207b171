// Package bridge exposes one asynchronous scan/encode contract over
// interchangeable capture adapters.
//
// A Facade validates callbacks and forwards requests; its Coordinator owns the
// single live Session and turns adapter events (started, codefound, errorfound,
// ended) into exactly one terminal callback per scan.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
)

// Config wires a Facade. Every field is optional: without an Adapter scans fail
// with ErrNoWindowOrHardware, without an Encoder encodes fail with
// ErrNotImplemented, and without a Decoder the gozxing backend is used.
type Config struct {
	Adapter    Adapter
	Encoder    encoder.Encoder
	Decoder    barcode.Backend
	AckTimeout time.Duration
	// NormalizeText applies Unicode NFC to scanned text.
	NormalizeText bool
	Logger        *slog.Logger
}

// Facade is the application-facing entry point.
type Facade struct {
	coord         *Coordinator
	adapterName   string
	encoder       encoder.Encoder
	decoder       barcode.Backend
	normalizeText bool
	logger        *slog.Logger
}

// New creates a Facade.
func New(cfg Config) (*Facade, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dec := cfg.Decoder
	if dec == nil {
		var err error
		dec, err = barcode.NewBackend(barcode.BackendGozxing)
		if err != nil {
			return nil, err
		}
	}
	f := &Facade{
		encoder:       cfg.Encoder,
		decoder:       dec,
		normalizeText: cfg.NormalizeText,
		logger:        logger,
	}
	if cfg.Adapter != nil {
		f.adapterName = cfg.Adapter.Name()
		f.coord = NewCoordinator(cfg.Adapter, CoordinatorConfig{AckTimeout: cfg.AckTimeout, Logger: logger})
	}
	return f, nil
}

// Coordinator returns the coordinator, or nil when no adapter is configured.
func (f *Facade) Coordinator() *Coordinator { return f.coord }

// AdapterName returns the configured adapter's name, or "".
func (f *Facade) AdapterName() string { return f.adapterName }

// Scan starts a scan. The result, cancellation included, arrives through
// success; errors through fail. A nil success or fail is rejected
// synchronously with ErrInvalidCallback and nothing is started.
func (f *Facade) Scan(req ScanRequest, success SuccessFunc, fail FailFunc) error {
	_, err := f.scan(req, success, fail)
	return err
}

func (f *Facade) scan(req ScanRequest, success SuccessFunc, fail FailFunc) (uint64, error) {
	if success == nil || fail == nil {
		f.logger.Error("scan: success and fail callbacks must be functions")
		return 0, ErrInvalidCallback
	}
	if f.coord == nil {
		fail(ErrNoWindowOrHardware)
		return 0, nil
	}
	if f.normalizeText {
		inner := success
		success = func(r ScanResult) {
			if r.Text != nil {
				t := norm.NFC.String(*r.Text)
				r.Text = &t
			}
			inner(r)
		}
	}
	return f.coord.Scan(req, success, fail), nil
}

// Cancel cancels the live scan, if any.
func (f *Facade) Cancel() bool {
	if f.coord == nil {
		return false
	}
	return f.coord.Cancel()
}

// ScanContext runs a scan and waits for its terminal callback. Cancelling ctx
// cancels the scan, which then returns the cancelled result.
func (f *Facade) ScanContext(ctx context.Context, req ScanRequest) (ScanResult, error) {
	type outcome struct {
		res ScanResult
		err error
	}
	done := make(chan outcome, 1)
	id, err := f.scan(req,
		func(r ScanResult) { done <- outcome{res: r} },
		func(err error) { done <- outcome{err: err} },
	)
	if err != nil {
		return ScanResult{}, err
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
	}
	// If the cancel loses the race against a terminal event, that event's
	// callback is already on its way.
	if id != 0 {
		f.coord.CancelSession(id)
	}
	o := <-done
	return o.res, o.err
}

// Encode renders req into a PNG data URI delivered through success.
func (f *Facade) Encode(req EncodeRequest, success func(string), fail FailFunc) error {
	if success == nil || fail == nil {
		f.logger.Error("encode: success and fail callbacks must be functions")
		return ErrInvalidCallback
	}
	uri, err := f.EncodeImage(req)
	if err != nil {
		fail(err)
		return nil
	}
	success(uri)
	return nil
}

// EncodeImage is the synchronous form of Encode.
func (f *Facade) EncodeImage(req EncodeRequest) (uri string, err error) {
	typ := ParseEncodeType(string(req.Type))
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		encodeTotal.WithLabelValues(string(typ), status).Inc()
	}()

	if req.Data == "" {
		return "", ErrEncodeDataMissing
	}
	if f.encoder == nil {
		return "", ErrNotImplemented
	}
	data := NormalizeData(typ, req.Data)
	opts := encoder.ParseOptions(req.Options, f.encoder.Defaults())

	uri, err = f.safeEncode(data, opts)
	if err != nil {
		f.logger.Error("encode failed", "type", string(typ), "format", opts.Format.String(), "error", err)
		if errors.Is(err, encoder.ErrUnsupportedFormat) {
			return "", fmt.Errorf("%w: %w", ErrNotImplemented, err)
		}
		var ne *NativeError
		if errors.As(err, &ne) {
			return "", ne
		}
		return "", &NativeError{Reason: err.Error(), Err: err}
	}
	return uri, nil
}

func (f *Facade) safeEncode(data string, opts encoder.Options) (uri string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nativeErrorf("encoder panic: %v", r)
		}
	}()
	return f.encoder.Encode(data, opts)
}

// Decode decodes an in-memory image (raw bytes, base64 or a data URI) in the
// background. It needs no session, so it may run while a scan is active.
func (f *Facade) Decode(img []byte, req ScanRequest, success SuccessFunc, fail FailFunc) error {
	if success == nil || fail == nil {
		f.logger.Error("decode: success and fail callbacks must be functions")
		return ErrInvalidCallback
	}
	go func() {
		res, err := f.DecodeImage(context.Background(), img, req)
		if err != nil {
			fail(err)
			return
		}
		success(res)
	}()
	return nil
}

// DecodeImage is the synchronous form of Decode.
func (f *Facade) DecodeImage(ctx context.Context, data []byte, req ScanRequest) (ScanResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ScanResult{}, nativeErrorf("No data to decode!")
	}
	raw := data
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		decoded, derr := encoder.DecodeDataURI(string(bytes.TrimSpace(data)))
		if derr != nil {
			return ScanResult{}, &NativeError{Reason: "Could not create a Bitmap to decode!", Err: err}
		}
		raw = decoded
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return ScanResult{}, &NativeError{Reason: "Could not create a Bitmap to decode!", Err: err}
	}
	return f.DecodeFrame(ctx, img, req)
}

// DecodeFrame decodes an already loaded image.
func (f *Facade) DecodeFrame(ctx context.Context, img image.Image, req ScanRequest) (ScanResult, error) {
	results, err := f.decoder.Decode(ctx, img, barcode.Options{
		Formats:   barcode.ParseFormats(req.Formats),
		TryHarder: req.TryHarder,
	})
	if err != nil {
		if errors.Is(err, barcode.ErrNotFound) {
			return ScanResult{}, &NativeError{Reason: "No barcode found", Err: err}
		}
		return ScanResult{}, &NativeError{Reason: "Decode exception: " + err.Error(), Err: err}
	}
	text := results[0].Value
	if f.normalizeText {
		text = norm.NFC.String(text)
	}
	return Found(text, results[0].Type.String()), nil
}
