package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
)

// Watcher watches a directory of catalog files and applies changes to the registry.
type Watcher struct {
	dir      string
	reg      Registry
	debounce time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	known    map[string]string // path -> id
}

func NewWatcher(dir string, reg Registry, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, reg: reg, debounce: debounce, logger: logger, known: map[string]string{}}
}

// Prime records which file holds which id so that later deletions map back
// to an entry. Call it after an initial LoadAll of the same directory.
func (w *Watcher) Prime() error {
	des, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, de := range des {
		if de.IsDir() || !isCatalogFile(de.Name()) {
			continue
		}
		p := filepath.Join(w.dir, de.Name())
		if e, err := LoadOne(p); err == nil {
			w.known[p] = e.ID
		}
	}
	return nil
}

// Start begins watching. Returns stop function.
func (w *Watcher) Start(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		cancel()
		return nil, err
	}

	changes := make(chan string, 1024)
	go func() {
		defer fw.Close()
		for {
			select {
			case ev := <-fw.Events:
				if !isCatalogFile(ev.Name) {
					continue
				}
				changes <- ev.Name
			case err := <-fw.Errors:
				if err != nil {
					w.logger.Warn("fsnotify error", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(w.debounce)
		defer ticker.Stop()
		pending := map[string]struct{}{}
		for {
			select {
			case p := <-changes:
				pending[p] = struct{}{}
			case <-ticker.C:
				if len(pending) == 0 {
					continue
				}
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				pending = map[string]struct{}{}
				w.applyPaths(ctx, paths)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { w.stopOnce.Do(cancel) }, nil
}

func (w *Watcher) applyPaths(ctx context.Context, paths []string) {
	var upserts []Entry
	var removes []string
	for _, p := range paths {
		e, err := LoadOne(p)
		if errors.Is(err, os.ErrNotExist) {
			if id, ok := w.known[p]; ok {
				removes = append(removes, id)
				delete(w.known, p)
			}
			continue
		}
		if err != nil {
			w.logger.Warn("skip invalid catalog file", "path", p, "err", err)
			continue
		}
		// a file may be rewritten with a new id
		if prev, ok := w.known[p]; ok && prev != e.ID {
			removes = append(removes, prev)
		}
		upserts = append(upserts, e)
		w.known[p] = e.ID
	}
	if len(upserts) == 0 && len(removes) == 0 {
		return
	}
	if _, err := w.reg.ApplyDiff(ctx, upserts, removes); err != nil {
		metrics.CatalogReloads.WithLabelValues("fsnotify", "error").Inc()
		w.logger.Error("apply diff failed", "err", err)
		return
	}
	metrics.CatalogReloads.WithLabelValues("fsnotify", "ok").Inc()
	w.logger.Info("catalog updated", "upserts", len(upserts), "removes", len(removes))
}
