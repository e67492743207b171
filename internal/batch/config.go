package batch

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Output formats understood by FormatResults.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds all configuration for batch decoding.
type Config struct {
	// Parallel processing settings
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Decode settings
	Request bridge.ScanRequest
	Frame   utils.FrameOptions

	// ContinueOnError records unreadable files instead of aborting the batch.
	ContinueOnError bool
}

// DefaultConfig returns a Config with four workers and the default frame options.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Frame:   utils.DefaultFrameOptions(),
	}
}

// Item is the outcome for one image.
type Item struct {
	File     string             `json:"file"`
	Result   *bridge.ScanResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"-"`
}

// Found reports whether a symbol was decoded.
func (it Item) Found() bool { return it.Result != nil && !it.Result.Cancelled }

// Result holds the result of a batch run, in input order.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Summary aggregates a Result.
type Summary struct {
	Total         int     `json:"total"`
	Found         int     `json:"found"`
	Failed        int     `json:"failed"`
	DurationMs    float64 `json:"duration_ms"`
	AvgItemMs     float64 `json:"avg_item_ms"`
	ThroughputSec float64 `json:"throughput_per_sec"`
}

// Summary computes counts and timings.
func (r *Result) Summary() Summary {
	s := Summary{Total: len(r.Items), DurationMs: float64(r.Duration.Microseconds()) / 1000}
	var itemTime time.Duration
	for _, it := range r.Items {
		if it.Found() {
			s.Found++
		} else {
			s.Failed++
		}
		itemTime += it.Duration
	}
	if s.Total > 0 {
		s.AvgItemMs = float64(itemTime.Microseconds()) / 1000 / float64(s.Total)
	}
	if r.Duration > 0 {
		s.ThroughputSec = float64(s.Total) / r.Duration.Seconds()
	}
	return s
}

// FormatResults formats the batch results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r, format)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
		return nil
	}
	_, _ = fmt.Fprint(w, output)
	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Summary()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Decoded: %d\n", s.Found)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", s.ThroughputSec)
}
