package benchmark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"
)

// Timer measures one named span.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer starts a timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  `json:"alloc_bytes"`
	TotalAllocBytes uint64  `json:"total_alloc_bytes"`
	SysBytes        uint64  `json:"sys_bytes"`
	NumGC           uint32  `json:"num_gc"`
	GCCPUFraction   float64 `json:"gc_cpu_fraction"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024,
		m.TotalAllocBytes/1024,
		m.SysBytes/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// Result holds the outcome of one benchmark run.
type Result struct {
	Name         string        `json:"name"`
	Duration     time.Duration `json:"duration_ns"`
	MemoryBefore MemoryStats   `json:"-"`
	MemoryAfter  MemoryStats   `json:"-"`
	Iterations   int           `json:"iterations"`
	Error        error         `json:"-"`
}

// AvgDuration is the mean time per completed iteration.
func (r Result) AvgDuration() time.Duration {
	if r.Iterations <= 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// AllocatedKB is the growth of the heap across the run; it can be negative
// when a collection ran in between.
func (r Result) AllocatedKB() int64 {
	return (int64(r.MemoryAfter.TotalAllocBytes) - int64(r.MemoryBefore.TotalAllocBytes)) / 1024 //nolint:gosec // G115: display only
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc: %d KB",
		r.Name, r.Iterations, r.AvgDuration(), r.Duration, r.AllocatedKB())
}

// Benchmark is a named unit of work repeated by a Suite.
type Benchmark struct {
	Name string
	Func func(ctx context.Context) error
}

// Suite runs a set of benchmarks and keeps the last results.
type Suite struct {
	benchmarks []Benchmark
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{
		benchmarks: make([]Benchmark, 0),
		results:    make([]Result, 0),
	}
}

// Add registers a benchmark.
func (s *Suite) Add(name string, fn func(ctx context.Context) error) {
	s.benchmarks = append(s.benchmarks, Benchmark{Name: name, Func: fn})
}

// Len reports the number of registered benchmarks.
func (s *Suite) Len() int {
	return len(s.benchmarks)
}

// Run runs a single benchmark by name.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	for _, b := range s.benchmarks {
		if b.Name == name {
			return runBenchmark(ctx, b, iterations)
		}
	}
	return Result{
		Name:  name,
		Error: fmt.Errorf("benchmark '%s' not found", name),
	}
}

// RunAll runs every benchmark in registration order. A cancelled context
// stops the remaining benchmarks; the ones already run are returned.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		if ctx.Err() != nil {
			break
		}
		s.results = append(s.results, runBenchmark(ctx, b, iterations))
	}
	return s.results
}

func runBenchmark(ctx context.Context, b Benchmark, iterations int) Result {
	if iterations <= 0 {
		return Result{Name: b.Name, Error: errors.New("iterations must be positive")}
	}

	runtime.GC()
	memBefore := GetMemoryStats()

	timer := NewTimer(b.Name)
	var err error
	done := 0
	for range iterations {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = b.Func(ctx); err != nil {
			break
		}
		done++
	}
	duration := timer.Stop()

	return Result{
		Name:         b.Name,
		Duration:     duration,
		MemoryBefore: memBefore,
		MemoryAfter:  GetMemoryStats(),
		Iterations:   done,
		Error:        err,
	}
}

// Results returns the results of the last RunAll.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// WriteResults prints the last results, one per line.
func (s *Suite) WriteResults(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Benchmark Results:")
	_, _ = fmt.Fprintln(w, "==================")
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}
