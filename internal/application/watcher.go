package application

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce batches the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// ConfigWatcher reloads a configuration file whenever it changes on disk and
// hands every valid new version to a callback. Invalid edits are logged and
// skipped, so the last good configuration stays in effect.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange func(AppConfig) error
	logger   *zap.Logger
}

// NewConfigWatcher creates a watcher for path. onChange runs on the
// watcher goroutine; an error from it is logged and does not stop watching.
func NewConfigWatcher(path string, onChange func(AppConfig) error, logger *zap.Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &ConfigWatcher{
		path:     abs,
		debounce: DefaultReloadDebounce,
		onChange: onChange,
		logger:   logger.With(zap.String("config", abs)),
	}, nil
}

// Run watches until ctx is done. The parent directory is watched rather
// than the file so that atomic saves (write temp file, rename over) are
// seen too.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", zap.Error(err))
		return
	}
	if err := w.onChange(cfg); err != nil {
		w.logger.Error("failed to apply config change", zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.Strings("models", cfg.Ensemble.Models))
}
