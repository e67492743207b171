package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
	"github.com/MeKo-Tech/scanbridge/internal/utils"
)

// DirSource watches a capture directory and yields every image written into
// it, like a camera that delivers frames until it is stopped.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
	pending []string
	seen    map[string]int64 // path -> size of the last decoded version
	logger  *slog.Logger
}

// OpenDir starts watching dir. With includeExisting the images already in the
// directory are served first, oldest name first.
func OpenDir(dir string, includeExisting bool, logger *slog.Logger) (*DirSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: capture directory: %w", bridge.ErrNoWindowOrHardware, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", bridge.ErrNoWindowOrHardware, dir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	s := &DirSource{dir: dir, watcher: w, seen: make(map[string]int64), logger: logger}
	if includeExisting {
		entries, err := os.ReadDir(dir)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && utils.IsSupportedImage(e.Name()) {
				s.pending = append(s.pending, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(s.pending)
	}
	return s, nil
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	for {
		if len(s.pending) > 0 {
			p := s.pending[0]
			s.pending = s.pending[1:]
			if f, ok := s.load(p); ok {
				return f, nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return Frame{}, io.EOF
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !utils.IsSupportedImage(ev.Name) {
				continue
			}
			if f, ok := s.load(ev.Name); ok {
				return f, nil
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("watch %s: %w", s.dir, err)
		}
	}
}

// load decodes path unless this exact version was already served. Partially
// written files fail to decode; the following Write event retries them.
func (s *DirSource) load(path string) (Frame, bool) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return Frame{}, false
	}
	if size, ok := s.seen[path]; ok && size == st.Size() {
		return Frame{}, false
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		s.logger.Debug("frame not ready", "path", path, "error", err)
		return Frame{}, false
	}
	s.seen[path] = st.Size()
	return Frame{Image: img, Origin: path}, true
}

func (s *DirSource) Close() error { return s.watcher.Close() }
