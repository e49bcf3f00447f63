// Package watch re-ingests files under a workspace root as they change.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jward/canon/internal/config"
	"github.com/jward/canon/internal/store"
)

// Handler ingests one changed file. rel is slash-separated and relative to
// the watched root.
type Handler func(ctx context.Context, rel string, src []byte) error

// Config configures the watcher
type Config struct {
	// Root is the directory to watch recursively
	Root string
	// Debounce is how long a file must be quiet before it is handled
	Debounce time.Duration
	// Filter selects the files to handle
	Filter config.IngestConfig
	// Handler is called once per settled change
	Handler Handler
	// Logger for logging events
	Logger *slog.Logger
}

// Watcher debounces filesystem events and hands changed files to its
// handler. Writes that leave the content hash unchanged are skipped.
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]time.Time // path → time of the last event

	hashMu sync.Mutex
	hashes map[string]string // rel → content hash

	ready chan struct{}
}

// New creates a watcher over cfg.Root.
func New(cfg Config) (*Watcher, error) {
	if cfg.Handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config:  cfg,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]time.Time),
		hashes:  make(map[string]string),
		ready:   make(chan struct{}),
	}, nil
}

// Seed records a known content hash so an unchanged file is not
// re-ingested on its first event.
func (w *Watcher) Seed(rel, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[filepath.ToSlash(rel)] = hash
}

// Ready is closed once Run has registered its directory watches.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. It closes the underlying watcher on
// return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addRecursive(w.config.Root); err != nil {
		return err
	}
	close(w.ready)
	w.logger.Info("Watching for changes", "root", w.config.Root, "debounce", w.config.Debounce)

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && config.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !config.SkipDir(filepath.Base(path)) {
				if err := w.addRecursive(path); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil || !w.config.Filter.Match(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
	w.logger.Debug("File change detected", "path", rel, "op", event.Op.String())
}

// flush handles every pending path that has been quiet for the debounce
// interval.
func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.pendingMu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.config.Debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.pendingMu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	rel, _ := filepath.Rel(w.config.Root, path)
	rel = filepath.ToSlash(rel)

	src, err := os.ReadFile(path)
	if err != nil {
		w.logger.Debug("Skipping unreadable file", "path", rel, "error", err)
		return
	}
	hash := store.HashBytes(src)

	w.hashMu.Lock()
	unchanged := w.hashes[rel] == hash
	w.hashMu.Unlock()
	if unchanged {
		w.logger.Debug("Content unchanged, skipping", "path", rel)
		return
	}

	if err := w.config.Handler(ctx, rel, src); err != nil {
		w.logger.Warn("Re-ingestion failed", "path", rel, "error", err)
		return
	}
	w.Seed(rel, hash)
}
