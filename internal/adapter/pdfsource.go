package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// OpenPDF extracts the embedded images of a PDF (scanned pages, labels) with
// pdfcpu and serves them in page order. pageRange uses "1-3,5"; empty means
// all pages.
func OpenPDF(path, pageRange, password string) (*ImageSource, error) {
	pages, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "scanbridge-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var selected []string
	for _, p := range pages {
		selected = append(selected, strconv.Itoa(p))
	}
	var conf *model.Configuration
	if password != "" {
		conf = model.NewDefaultConfiguration()
		conf.UserPW = password
		conf.OwnerPW = password
	}
	if err := api.ExtractImagesFile(path, tempDir, selected, conf); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	frames, err := collectExtractedFrames(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	return NewImageSource(frames...), nil
}

type pageFile struct {
	page int
	name string
	path string
}

// collectExtractedFrames loads pdfcpu output files (page_<num>_image_<idx>.<ext>)
// ordered by page, then by name.
func collectExtractedFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []pageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		page, err := parsePageFromFilename(e.Name())
		if err != nil {
			continue
		}
		files = append(files, pageFile{page: page, name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].page != files[j].page {
			return files[i].page < files[j].page
		}
		return files[i].name < files[j].name
	})

	frames := make([]Frame, 0, len(files))
	for _, f := range files {
		img, _, err := utils.LoadImage(f.path)
		if err != nil {
			// pdfcpu also writes formats we cannot decode (e.g. CCITT as TIFF).
			continue
		}
		frames = append(frames, Frame{Image: img, Origin: "page " + strconv.Itoa(f.page)})
	}
	return frames, nil
}

// parsePageFromFilename extracts the page number from a pdfcpu image filename.
func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || start < 1 {
			return nil, fmt.Errorf("invalid start page: %s", lo)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", hi)
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}

// pdfSourceFunc opens path for every session.
func pdfSourceFunc(path, pageRange, password string) SourceFunc {
	return func(_ context.Context, _ bridge.ScanRequest) (FrameSource, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %w", bridge.ErrNoWindowOrHardware, err)
		}
		return OpenPDF(path, pageRange, password)
	}
}
