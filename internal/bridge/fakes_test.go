package bridge

import (
	"context"
	"sync"

	"github.com/MeKo-Tech/scanbridge/internal/encoder"
)

// fakeAdapter records session calls. Hooks run outside its lock and may emit.
type fakeAdapter struct {
	mu       sync.Mutex
	starts   []uint64
	stops    []uint64
	sink     EventSink
	ctx      context.Context
	startErr error

	onStart func(id uint64, sink EventSink)
	onStop  func(id uint64, sink EventSink)
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) StartSession(ctx context.Context, id uint64, _ ScanRequest, sink EventSink) error {
	a.mu.Lock()
	a.starts = append(a.starts, id)
	a.sink = sink
	a.ctx = ctx
	err := a.startErr
	hook := a.onStart
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(id, sink)
	}
	return nil
}

func (a *fakeAdapter) StopSession(id uint64) {
	a.mu.Lock()
	a.stops = append(a.stops, id)
	sink := a.sink
	hook := a.onStop
	a.mu.Unlock()
	if hook != nil {
		hook(id, sink)
	}
}

func (a *fakeAdapter) startCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.starts)
}

func (a *fakeAdapter) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stops)
}

// recorder collects terminal callbacks.
type recorder struct {
	mu        sync.Mutex
	successes []ScanResult
	failures  []error
}

func (r *recorder) success(res ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, res)
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.failures)
}

func (r *recorder) total() int {
	s, f := r.counts()
	return s + f
}

// fakeEncoder records the data it was asked to render.
type fakeEncoder struct {
	mu    sync.Mutex
	calls []string
	err   error
	panic bool
}

func (e *fakeEncoder) Encode(data string, _ encoder.Options) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, data)
	e.mu.Unlock()
	if e.panic {
		panic("renderer exploded")
	}
	if e.err != nil {
		return "", e.err
	}
	return encoder.DataURIPrefix + "ZmFrZQ==", nil
}

func (e *fakeEncoder) Defaults() encoder.Options { return encoder.DefaultOptions() }

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
