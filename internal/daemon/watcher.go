package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sourceWatcher monitors a local API document for changes and triggers a
// run after a debounce window, since editors produce bursts of writes.
type sourceWatcher struct {
	path         string
	onChange     func()
	watcher      *fsnotify.Watcher
	debounceTime time.Duration
	logger       *slog.Logger
}

func newSourceWatcher(path string, onChange func()) (*sourceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve source path: %w", err)
	}

	return &sourceWatcher{
		path:         absPath,
		onChange:     onChange,
		watcher:      watcher,
		debounceTime: 2 * time.Second,
		logger:       slog.Default(),
	}, nil
}

// Start watches the directory containing the source file. Watching the
// directory instead of the file survives rename-style saves.
func (w *sourceWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch source directory %s: %w", dir, err)
	}

	w.logger.Info("Watching api document for changes", "path", w.path)
	go w.loop(ctx)
	return nil
}

func (w *sourceWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Source document changed", "event", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceTime, w.onChange)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *sourceWatcher) Stop() {
	_ = w.watcher.Close()
}
