package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/barcode"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// Config selects what CompareBackends measures.
type Config struct {
	Backends   []string
	Iterations int
	Options    barcode.Options
	Frame      utils.FrameOptions
}

// DefaultConfig compares both bundled decoders over five iterations.
func DefaultConfig() Config {
	return Config{
		Backends:   []string{barcode.BackendGozxing, barcode.BackendGoqr},
		Iterations: 5,
		Frame:      utils.DefaultFrameOptions(),
	}
}

// BackendRun is one decoder measured against one image.
type BackendRun struct {
	Backend string  `json:"backend"`
	Found   bool    `json:"found"`
	Format  string  `json:"format,omitempty"`
	Text    string  `json:"text,omitempty"`
	Result  Result  `json:"result"`
	AvgMS   float64 `json:"avg_ms"`
	Err     string  `json:"error,omitempty"`
}

// Comparison holds every backend's run over one image.
type Comparison struct {
	ImagePath string       `json:"image"`
	ImageSize string       `json:"size"`
	Runs      []BackendRun `json:"runs"`
	// Fastest names the quickest backend that found a symbol, if any did.
	Fastest string `json:"fastest,omitempty"`
}

// CompareBackends decodes each image with each configured backend and times
// cfg.Iterations repetitions. A frame without a symbol is a valid measurement;
// only unreadable images and backend failures are errors.
func CompareBackends(ctx context.Context, paths []string, cfg Config) ([]Comparison, error) {
	if len(paths) == 0 {
		return nil, errors.New("no images to benchmark")
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", cfg.Iterations)
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultConfig().Backends
	}

	backends := make([]barcode.Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		b, err := barcode.NewBackend(name)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	out := make([]Comparison, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		img, meta, err := utils.LoadImage(path)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		frame, err := utils.PrepareFrame(img, cfg.Frame)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}

		cmp := Comparison{
			ImagePath: path,
			ImageSize: fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		}
		suite := NewSuite()
		for _, b := range backends {
			suite.Add(b.Name(), func(ctx context.Context) error {
				_, err := b.Decode(ctx, frame, cfg.Options)
				if errors.Is(err, barcode.ErrNotFound) {
					return nil
				}
				return err
			})
		}

		for i, r := range suite.RunAll(ctx, cfg.Iterations) {
			run := BackendRun{Backend: r.Name, Result: r, AvgMS: float64(r.AvgDuration()) / float64(time.Millisecond)}
			if r.Error != nil {
				run.Err = r.Error.Error()
			} else if res, err := backends[i].Decode(ctx, frame, cfg.Options); err == nil && len(res) > 0 {
				run.Found = true
				run.Format = res[0].Type.String()
				run.Text = res[0].Value
			}
			cmp.Runs = append(cmp.Runs, run)
		}
		cmp.Fastest = fastest(cmp.Runs)
		out = append(out, cmp)
	}
	return out, nil
}

func fastest(runs []BackendRun) string {
	name := ""
	var best time.Duration
	for _, r := range runs {
		if !r.Found {
			continue
		}
		if avg := r.Result.AvgDuration(); name == "" || avg < best {
			name, best = r.Backend, avg
		}
	}
	return name
}

// WriteComparisons prints comparisons as an aligned table or as JSON.
func WriteComparisons(w io.Writer, cmps []Comparison, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cmps)
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "IMAGE\tSIZE\tBACKEND\tAVG\tALLOC KB\tRESULT")
		for _, c := range cmps {
			for _, r := range c.Runs {
				result := "-"
				switch {
				case r.Err != "":
					result = "error: " + r.Err
				case r.Found:
					result = r.Format + " " + r.Text
				}
				if c.Fastest == r.Backend {
					result += " (fastest)"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\n",
					filepath.Base(c.ImagePath), c.ImageSize, r.Backend,
					r.Result.AvgDuration().Round(time.Microsecond), r.Result.AllocatedKB(), result)
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
