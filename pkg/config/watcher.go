package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/resumeforge/dispatch/pkg/observability"
)

// watchDebounce coalesces the burst of events most editors and atomic
// writers produce for a single save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the configuration whenever the file at path changes and
// hands each successfully validated result to onChange. Reload failures
// are logged and the previous configuration stays in effect. Watch blocks
// until ctx is canceled.
//
// Typical use is applying runtime tunables such as the log level:
//
//	go config.Watch(ctx, path, logger, func(cfg *config.Config) {
//		logger.SetLevel(cfg.Observability.Level())
//	})
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file so atomic replaces (write
	// to a temp file, rename over) keep being seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var reload <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reload = time.After(watchDebounce)
		case <-reload:
			reload = nil
			cfg, err := LoadConfigFile(path)
			if err != nil {
				logger.WithError(err).Warn("Config reload failed, keeping previous configuration")
				continue
			}
			logger.WithField("path", path).Info("Configuration reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Config watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
