package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"autotool/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and notifies
// listeners with the new value. The parent directory is watched so editors
// that replace the file via rename are still picked up.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	watcher   *fsnotify.Watcher
	config    *Config
	listeners []func(*Config)
	debounce  time.Duration
	doneCh    chan struct{}
}

// NewWatcher loads path and prepares a watcher for it.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		config:   cfg,
		debounce: 200 * time.Millisecond,
		doneCh:   make(chan struct{}),
	}, nil
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Run watches until ctx is cancelled. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.doneCh)
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Get(logging.CategoryConfig).Info("watching config %s", w.path)

	var pending <-chan time.Time
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryConfig).Warn("config watcher error: %v", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Get(logging.CategoryConfig).Error("failed to reload config: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Get(logging.CategoryConfig).Error("reloaded config is invalid, keeping previous: %v", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	logging.Get(logging.CategoryConfig).Info("config reloaded from %s", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
}
