package modloader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/nfrund/modhost/internal/dynlib"
)

// Notifier receives "a fresh binary is available at path" signals.
type Notifier interface {
	Notify(path string)
}

// Watcher watches the modules directory and forwards new or rewritten module
// binaries to a Notifier. Build tools should write to a temporary name and
// rename into place so a half-written binary is never picked up.
type Watcher struct {
	dir      string
	naming   dynlib.Naming
	notifier Notifier

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for dir. It does nothing until Boot.
func NewWatcher(dir string, naming dynlib.Naming, notifier Notifier) *Watcher {
	return &Watcher{dir: dir, naming: naming, notifier: notifier}
}

// Name returns the component name.
func (w *Watcher) Name() string {
	return "module_watcher"
}

// Boot begins monitoring the modules directory for changes.
func (w *Watcher) Boot(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		slog.Debug("Module watcher already active")
		return nil
	}

	// fsnotify only sees the OS filesystem, so the check goes there too and
	// not through the Loader's afero.Fs.
	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		slog.Info("Modules directory does not exist, skipping watcher setup", "path", w.dir)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file system watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch modules directory %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = watcher
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.watchFiles(ctx, watcher, w.done)

	slog.Info("Started file system watcher for module hot-reloading", "directory", w.dir)
	return nil
}

// Shutdown stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchFiles handles file system events
func (w *Watcher) watchFiles(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer func() {
		watcher.Close()
		w.mu.Lock()
		if w.watcher == watcher {
			w.watcher = nil
		}
		w.mu.Unlock()
		close(done)
		slog.Info("Module watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				slog.Debug("File system watcher events channel closed")
				return
			}
			w.handleFileEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				slog.Debug("File system watcher errors channel closed")
				return
			}
			slog.Error("File system watcher error", "error", err)
		}
	}
}

// handleFileEvent processes individual file system events
func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	moduleContext, ok := w.naming.Match(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		logHotReload("created", moduleContext, event.Name)
		w.notifier.Notify(event.Name)

	case event.Has(fsnotify.Write):
		logHotReload("modified", moduleContext, event.Name)
		w.notifier.Notify(event.Name)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The loaded copy lives in the cache, so the active module keeps serving.
		logHotReload("removed", moduleContext, event.Name)
	}
}
