// Package watch re-ingests documents when they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/efebarandurmaz/docrag/internal/report"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// Ingester ingests a single file.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (report.DocumentResult, error)
}

// Watcher watches a directory tree and feeds changed supported files to an
// Ingester, one at a time.
type Watcher struct {
	root      string
	ingester  Ingester
	supported func(string) bool
	recursive bool
	debounce  time.Duration
	onResult  func(report.DocumentResult, error)
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithRecursive(r bool) Option {
	return func(w *Watcher) { w.recursive = r }
}

// WithSupported filters which paths are ingested.
func WithSupported(f func(string) bool) Option {
	return func(w *Watcher) { w.supported = f }
}

// OnResult is called after every ingest attempt.
func OnResult(f func(report.DocumentResult, error)) Option {
	return func(w *Watcher) { w.onResult = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher for root.
func New(root string, ingester Ingester, opts ...Option) *Watcher {
	w := &Watcher{
		root:      root,
		ingester:  ingester,
		supported: func(string) bool { return true },
		recursive: true,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		pending:   make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run blocks until ctx is cancelled or the watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "dir", w.root, "recursive", w.recursive)

	ctx, cancel := context.WithCancel(ctx)
	ready := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case path := <-ready:
				res, err := w.ingester.IngestFile(ctx, path)
				if w.onResult != nil {
					w.onResult(res, err)
				}
			}
		}
	}()
	defer func() {
		cancel()
		w.stopTimers()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev, ready)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch event queue overflowed; some changes may be missed")
				continue
			}
			return fmt.Errorf("watch %s: %w", w.root, err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event, ready chan<- string) {
	if hidden(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.recursive {
				if err := w.addTree(fw, ev.Name); err != nil {
					w.logger.Warn("cannot watch new directory", "dir", ev.Name, "error", err)
				}
			}
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.supported(ev.Name) {
		return
	}
	w.schedule(ctx, ev.Name, ready)
}

// schedule (re)starts the quiet period for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
