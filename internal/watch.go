package internal

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchConfig watches the configuration file at path and calls apply with
// the freshly loaded configuration whenever the file is written. Only
// settings the worker can change at runtime are meant to be applied; the
// caller decides which. WatchConfig blocks until ctx is cancelled.
//
// Editors that replace the file (rename-over-write) would defeat a watch on
// the file itself, so the parent directory is watched instead.
func WatchConfig(ctx context.Context, path string, environ []string, logger *zap.Logger, apply func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create configuration watcher: %w", err)
	}
	defer watcher.Close()

	path, err = filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration path %q: %w", path, err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch configuration directory %q: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			config, err := LoadConfig(path, false, environ)
			if err != nil {
				logger.Warn("ignoring configuration reload", zap.Error(err))
				continue
			}
			if err := config.Validate(); err != nil {
				logger.Warn("ignoring invalid configuration reload", zap.Error(err))
				continue
			}

			logger.Info("configuration reloaded", zap.String("path", path))
			apply(config)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("configuration watcher error", zap.Error(err))
		}
	}
}
