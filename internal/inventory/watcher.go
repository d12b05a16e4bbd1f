package inventory

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/mdr/internal/cache"
	"github.com/standardbeagle/mdr/internal/keywords"
)

const watchDebounce = 500 * time.Millisecond

// Watcher invalidates the cached inventory when model files appear, change,
// or disappear under the models root. Events are debounced so a burst of
// writes (a download landing, a bulk move) triggers a single refresh.
type Watcher struct {
	inv     *Inventory
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher over the inventory's configured root.
func NewWatcher(inv *Inventory) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{inv: inv, watcher: fsw, ctx: ctx, cancel: cancel}, nil
}

// Start adds watches for the root and every non-excluded subdirectory, then
// begins processing events.
func (w *Watcher) Start() error {
	root := w.inv.cfg.Paths.ModelsRoot
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && w.inv.excluded(filepath.ToSlash(rel), true) {
			return fs.SkipDir
		}
		if addErr := w.watcher.Add(path); addErr != nil {
			log.Printf("inventory: failed to watch %s: %v", path, addErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop cancels event processing and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		log.Printf("inventory: error closing watcher: %v", err)
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("inventory: watch error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return
	}
	// New directories need their own watch before files land in them.
	if event.Op&fsnotify.Create != 0 && filepath.Ext(event.Name) == "" {
		if err := w.watcher.Add(event.Name); err == nil {
			w.scheduleRefresh()
			return
		}
	}
	// Only model files affect the index.
	if !keywords.HasModelExtension(event.Name) {
		return
	}
	w.scheduleRefresh()
}

// scheduleRefresh debounces refreshes: the cache is dropped immediately so
// stale reads stop, the rescan happens once events settle.
func (w *Watcher) scheduleRefresh() {
	if w.inv.store != nil {
		if err := w.inv.store.Invalidate(cache.NamespaceInventory); err != nil {
			log.Printf("inventory: cache invalidation failed: %v", err)
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		if err := w.inv.Index(); err != nil {
			log.Printf("inventory: refresh after change failed: %v", err)
		}
	})
}
