package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// ChangeSet is one debounced batch of note changes, as vault-relative paths.
type ChangeSet struct {
	Changed []string
	Removed []string
}

// Empty reports whether the set holds no paths.
func (c ChangeSet) Empty() bool { return len(c.Changed) == 0 && len(c.Removed) == 0 }

// Watcher reports note changes in a vault, batched by a quiet period.
type Watcher struct {
	vault    *Vault
	debounce time.Duration
	watcher  *fsnotify.Watcher
	events   chan ChangeSet
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending map[string]bool // path -> removed
	timer   *time.Timer
}

// NewWatcher creates a watcher for v. A non-positive debounce uses
// DefaultDebounce.
func NewWatcher(v *Vault, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		vault:    v,
		debounce: debounce,
		watcher:  fw,
		events:   make(chan ChangeSet, 8),
		stop:     make(chan struct{}),
		pending:  make(map[string]bool),
	}, nil
}

// Start watches every non-ignored directory and processes events in the
// background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.vault.root); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Events delivers change batches. It is never closed; select on the
// context passed to Start as well.
func (w *Watcher) Events() <-chan ChangeSet { return w.events }

// Stop releases the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != w.vault.root {
			rel, _ := filepath.Rel(w.vault.root, path)
			if w.vault.Ignored(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.vault.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.vault.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)
	if w.vault.Ignored(rel) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.vault.logger.Warn("watching new directory failed", zap.String("path", rel), zap.Error(err))
			}
			return
		}
	}
	if !strings.HasSuffix(rel, ".md") {
		return
	}

	removed := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
	if !removed && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	w.vault.logger.Debug("note changed", zap.String("path", rel), zap.String("op", ev.Op.String()))
	w.queue(rel, removed)
}

func (w *Watcher) queue(rel string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = removed
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	var set ChangeSet
	for path, removed := range w.pending {
		// A rename or remove followed by a recreate ends up as a change.
		if removed {
			if _, err := os.Stat(filepath.Join(w.vault.root, filepath.FromSlash(path))); err == nil {
				removed = false
			}
		}
		if removed {
			set.Removed = append(set.Removed, path)
		} else {
			set.Changed = append(set.Changed, path)
		}
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	if set.Empty() {
		return
	}
	sort.Strings(set.Changed)
	sort.Strings(set.Removed)

	select {
	case <-w.stop:
		return
	default:
	}
	select {
	case <-w.stop:
	case w.events <- set:
	}
}
