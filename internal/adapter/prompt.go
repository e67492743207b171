package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
)

// DefaultPrompt is shown when the scan request carries no prompt.
const DefaultPrompt = "Enter barcode value (empty value will cancel the scan):"

// ManualFormat is the format reported for values typed by the user.
const ManualFormat = "MANUAL"

// PromptAdapter asks the user to type the barcode value, the way a browser
// without camera access falls back to a prompt dialog.
type PromptAdapter struct {
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	once  sync.Once
	lines chan string
	eof   chan struct{}

	mu       sync.Mutex
	sessions map[uint64]context.CancelFunc
	wg       sync.WaitGroup
}

// NewPromptAdapter reads answers from in and writes prompts to out.
func NewPromptAdapter(in io.Reader, out io.Writer, logger *slog.Logger) *PromptAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptAdapter{
		in:       in,
		out:      out,
		logger:   logger.With("adapter", NamePrompt),
		lines:    make(chan string),
		eof:      make(chan struct{}),
		sessions: make(map[uint64]context.CancelFunc),
	}
}

func (a *PromptAdapter) Name() string { return NamePrompt }

// readLines feeds lines from the input until it is exhausted. It is started
// once and shared by all sessions so an abandoned prompt does not leak a reader.
func (a *PromptAdapter) readLines() {
	sc := bufio.NewScanner(a.in)
	for sc.Scan() {
		a.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		a.logger.Warn("prompt input failed", "error", err)
	}
	close(a.eof)
}

// StartSession implements bridge.Adapter.
func (a *PromptAdapter) StartSession(ctx context.Context, id uint64, req bridge.ScanRequest, sink bridge.EventSink) error {
	if a.in == nil || a.out == nil {
		return fmt.Errorf("%w: no terminal attached", bridge.ErrNoWindowOrHardware)
	}
	a.once.Do(func() { go a.readLines() })

	sctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.sessions[id] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(sctx, id, req, sink)
	return nil
}

// StopSession implements bridge.Adapter.
func (a *PromptAdapter) StopSession(id uint64) {
	a.mu.Lock()
	cancel, ok := a.sessions[id]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until every session goroutine has exited.
func (a *PromptAdapter) Wait() { a.wg.Wait() }

func (a *PromptAdapter) run(ctx context.Context, id uint64, req bridge.ScanRequest, sink bridge.EventSink) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		if cancel, ok := a.sessions[id]; ok {
			cancel()
			delete(a.sessions, id)
		}
		a.mu.Unlock()
	}()

	prompt := req.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	sink.Emit(bridge.Started(id))
	if _, err := fmt.Fprintln(a.out, prompt); err != nil {
		sink.Emit(bridge.Failed(id, err.Error()))
		return
	}

	select {
	case <-ctx.Done():
	case <-a.eof:
	case line := <-a.lines:
		if value := strings.TrimSpace(line); value != "" {
			sink.Emit(bridge.CodeFound(id, bridge.CodePayload(value, ManualFormat)))
		}
	}
	sink.Emit(bridge.Ended(id))
}
