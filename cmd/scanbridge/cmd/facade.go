package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/scanbridge/internal/adapter"
	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/config"
	"github.com/MeKo-Tech/scanbridge/internal/encoder"
)

// adapterSettings is everything needed to open a capture adapter.
type adapterSettings struct {
	name  string
	files []string
	in    io.Reader
	out   io.Writer
}

// waiter is implemented by adapters whose session goroutines can be joined.
type waiter interface{ Wait() }

// newFacade builds a facade around the adapter described by as. The returned
// cleanup joins adapter goroutines and must run after the last scan.
func newFacade(cfg *config.Config, as adapterSettings, logger *slog.Logger) (*bridge.Facade, func(), error) {
	backend, err := barcode.NewBackend(cfg.Scanner.Decoder)
	if err != nil {
		return nil, nil, err
	}

	a, err := newAdapter(cfg, as, backend, logger)
	if err != nil {
		return nil, nil, err
	}

	fcfg := bridge.Config{
		Adapter:       a,
		Encoder:       encoder.New(cfg.EncoderOptions()),
		Decoder:       backend,
		AckTimeout:    cfg.AckTimeout(),
		NormalizeText: cfg.Scanner.NormalizeText,
		Logger:        logger,
	}
	f, err := bridge.New(fcfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		f.Cancel()
		if w, ok := a.(waiter); ok {
			w.Wait()
		}
	}
	return f, cleanup, nil
}

// newAdapter returns nil for the empty name, which leaves the facade without
// capture hardware.
func newAdapter(cfg *config.Config, as adapterSettings, backend barcode.Backend, logger *slog.Logger) (bridge.Adapter, error) {
	fc := adapter.FrameConfig{Backend: backend, Frame: cfg.FrameOptions(), Logger: logger}

	switch as.name {
	case "":
		return nil, nil
	case adapter.NameFiles:
		return adapter.NewFileAdapter(as.files, fc)
	case adapter.NameDir:
		if cfg.Scanner.FrameDir == "" {
			return nil, fmt.Errorf("adapter %q needs a frame directory (--frame-dir or scanner.frame_dir)", as.name)
		}
		return adapter.NewDirAdapter(cfg.Scanner.FrameDir, cfg.Scanner.IncludeExisting, fc)
	case adapter.NamePDF:
		if len(as.files) != 1 {
			return nil, fmt.Errorf("adapter %q needs exactly one PDF file, got %d", as.name, len(as.files))
		}
		return adapter.NewPDFAdapter(as.files[0], cfg.Scanner.PDFPages, cfg.Scanner.PDFPassword, fc)
	case adapter.NamePrompt:
		return adapter.NewPromptAdapter(as.in, as.out, logger), nil
	default:
		return nil, fmt.Errorf("unknown adapter: %s", as.name)
	}
}

// newRemoteFacade builds a facade whose scans are served by a device attached
// to remote.
func newRemoteFacade(cfg *config.Config, remote *adapter.RemoteAdapter, logger *slog.Logger) (*bridge.Facade, error) {
	backend, err := barcode.NewBackend(cfg.Scanner.Decoder)
	if err != nil {
		return nil, err
	}
	return bridge.New(bridge.Config{
		Adapter:       remote,
		Encoder:       encoder.New(cfg.EncoderOptions()),
		Decoder:       backend,
		AckTimeout:    cfg.AckTimeout(),
		NormalizeText: cfg.Scanner.NormalizeText,
		Logger:        logger,
	})
}
