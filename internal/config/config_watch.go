package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded config after the file changes.
type ReloadFunc func(cfg *Config)

// Watch reloads the config file on change and hands the result to onReload.
// Only tuning sections should be consumed from reloads — channel tokens and
// database mode require a restart. Watches the parent directory because
// editors typically replace the file instead of writing in place.
func Watch(ctx context.Context, path string, onReload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		// Editors emit bursts of events per save; settle before reloading.
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", err)
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					slog.Error("config: reload failed, keeping previous", "path", path, "error", err)
					continue
				}
				slog.Info("config: reloaded", "path", path)
				onReload(cfg)
			}
		}
	}()
	return nil
}
