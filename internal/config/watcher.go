package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads non-structural settings (model tiers, thresholds, tool
// policy lists) whenever the project's config file changes on disk, without
// requiring a process restart. Structural fields already loaded into
// running components (e.g. WorkspaceConfig.Path) are left alone; callers
// apply only the hot-reloadable subset they care about.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	logger *slog.Logger
}

// NewWatcher starts watching path's parent directory (fsnotify watches
// directories, not files, so editors that replace-via-rename are handled).
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, path: absPath, logger: logger.With("component", "config.watcher")}, nil
}

// Watch blocks, invoking onReload with the freshly parsed config every time
// path is written or replaced. Returns when the watcher is closed.
func (w *Watcher) Watch(onReload func(*Config)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil || eventPath != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "error", err)
				continue
			}
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
