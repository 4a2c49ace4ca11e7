package lua

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncePeriod coalesces bursts of filesystem events (e.g. an editor's
// write-then-rename save) into a single reload per path.
const debouncePeriod = 200 * time.Millisecond

// Watcher recursively watches a Runtime's lib/, handlers/, and plugins/
// directories and posts debounced watchEvents to the runtime. fsnotify
// doesn't recurse on its own, so new subdirectories are added as they
// appear (a new plugin directory, in particular).
type Watcher struct {
	fsw        *fsnotify.Watcher
	runtime    *Runtime
	logger     *slog.Logger
	pluginsDir string

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a Watcher over r's baseDir. Call Run to begin
// watching; the caller owns stopping it via Close.
func NewWatcher(r *Runtime, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:        fsw,
		runtime:    r,
		logger:     logger,
		pluginsDir: filepath.Join(r.baseDir, "plugins"),
		timers:     make(map[string]*time.Timer),
	}
	for _, dir := range []string{"lib", "handlers", "plugins"} {
		w.addRecursive(filepath.Join(r.baseDir, dir))
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) {
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("lua watcher: failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

// Run processes fsnotify events until Close is called.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("lua watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	isPluginRoot := filepath.Dir(ev.Name) == w.pluginsDir

	if isPluginRoot {
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				w.addRecursive(ev.Name)
				w.debounce(ev.Name, func() {
					w.runtime.postWatchEvent(watchEvent{kind: watchPluginAdded, path: ev.Name})
				})
			}
			return
		}
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.debounce(ev.Name, func() {
				w.runtime.postWatchEvent(watchEvent{kind: watchPluginRemoved, path: ev.Name})
			})
			return
		}
	}

	if !strings.HasSuffix(ev.Name, ".lua") {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	path := ev.Name
	w.debounce(path, func() {
		w.runtime.postWatchEvent(watchEvent{kind: watchModuleChanged, path: path})
	})
}

// debounce coalesces repeated events on the same key into one call, firing
// after debouncePeriod of quiet.
func (w *Watcher) debounce(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(debouncePeriod, fn)
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
