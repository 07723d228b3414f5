// Package watcher watches feed directories with fsnotify and reports new or changed files.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/chikuseki/internal/feed"
	"github.com/hyperjump/chikuseki/pkg/utils"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches feed roots and calls onChange once per burst of writes to a matching file.
type Watcher struct {
	roots     []string
	patterns  []string
	recursive bool
	onChange  func(path string)
	debounce  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	done    chan struct{}
	started bool
	once    sync.Once
	logger  *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce overrides the quiet period before a changed file is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over roots. patterns are doublestar globs relative to a root;
// empty matches every file.
func NewWatcher(roots, patterns []string, recursive bool, onChange func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		roots:     roots,
		patterns:  patterns,
		recursive: recursive,
		onChange:  onChange,
		debounce:  defaultDebounce,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Missing roots are created. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := addRoot(fw, filepath.Clean(root), w.recursive); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.watcher = fw
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("roots", w.roots), zap.Strings("patterns", w.patterns), zap.Bool("recursive", w.recursive))
	go w.run(ctx, fw)
	return nil
}

func addRoot(fw *fsnotify.Watcher, root string, recursive bool) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !recursive {
		return fw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		// removal never retracts accumulated knowledge
		return
	}
	root, ok := w.rootOf(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		w.handleNewDirectory(root, ev.Name)
		return
	}
	if w.matches(root, ev.Name) {
		w.schedule(ev.Name)
	}
}

// handleNewDirectory watches a directory created (or moved) under root and reports its files.
func (w *Watcher) handleNewDirectory(root, dir string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil || !w.recursive {
		return
	}
	if err := addRoot(fw, dir, true); err != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	w.walk(root, dir)
}

func (w *Watcher) rootOf(path string) (string, bool) {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		r := filepath.Clean(root)
		if inDir(r, clean) {
			return r, true
		}
	}
	return "", false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matches(root, path string) bool {
	if len(w.patterns) == 0 {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return feed.Match(w.patterns, filepath.ToSlash(rel))
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Debug("watcher reporting file", zap.String("path", path))
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

func (w *Watcher) walk(root, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if w.matches(root, path) && w.onChange != nil {
			w.onChange(path)
		}
		return nil
	})
}

// SyncExisting reports every matching file already present in the roots.
func (w *Watcher) SyncExisting() {
	for _, root := range w.roots {
		r := filepath.Clean(root)
		w.logger.Debug("watcher syncing directory", zap.String("root", r))
		w.walk(r, r)
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and drops any pending reports.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.once.Do(func() { close(w.done) })
}
