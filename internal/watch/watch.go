// Package watch turns filesystem changes under the content directory into
// page cache invalidations.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Kush-Singh-26/rapidcache/pipeline/pagecache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// DefaultDebounce coalesces editor save bursts.
const DefaultDebounce = 300 * time.Millisecond

// Watcher invalidates the page of every markdown file that changes. Changes
// to any other file (layouts, partials) fire OnGlobal instead.
type Watcher struct {
	watcher     *fsnotify.Watcher
	root        string
	invalidator pagecache.CacheInvalidator
	logger      *slog.Logger

	// Debounce is the quiet period before a batch of changes is applied.
	Debounce time.Duration
	// OnReload runs after each batch, once invalidations are done.
	OnReload func()
	// OnGlobal runs when a non-markdown file changes.
	OnGlobal func(ctx context.Context)

	mu      sync.Mutex
	changed map[string]struct{}
	global  bool
	timer   *time.Timer
}

// New creates a watcher for root. Start must be called to begin watching.
func New(root string, invalidator pagecache.CacheInvalidator, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     w,
		root:        root,
		invalidator: invalidator,
		logger:      logger,
		Debounce:    DefaultDebounce,
		changed:     make(map[string]struct{}),
	}, nil
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(filepath.Base(path), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		w.logger.Warn("Failed to watch directory", "dir", dir, "error", err)
	}
}

// Start watches until ctx is done or the watcher is closed.
func (w *Watcher) Start(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		w.logger.Warn("Content directory missing, watcher idle", "dir", w.root)
	} else {
		w.addTree(w.root)
	}
	w.logger.Info("👀 Watching content for changes", "dir", w.root)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
					continue
				}
			}
			w.record(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// record notes a changed file and (re)arms the debounce timer.
func (w *Watcher) record(ctx context.Context, name string) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.EqualFold(filepath.Ext(rel), ".md") {
		w.changed[utils.NormalizeCacheKey(rel)] = struct{}{}
	} else {
		w.global = true
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, func() { w.flush(ctx) })
}

// flush applies the pending batch. Invalidation resolves against the index
// as it was before the change so renamed pages drop their old URL; the index
// is refreshed afterwards.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	changed := w.changed
	global := w.global
	w.changed = make(map[string]struct{})
	w.global = false
	w.mu.Unlock()

	for id := range changed {
		if err := w.invalidator.Invalidate(ctx, id); err != nil {
			w.logger.Warn("Invalidation failed", "id", id, "error", err)
			continue
		}
		w.logger.Info("🔄 Page invalidated", "id", id)
	}
	if global && w.OnGlobal != nil {
		w.OnGlobal(ctx)
	}
	if w.OnReload != nil {
		w.OnReload()
	}
}
