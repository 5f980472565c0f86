package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reloader keeps a live Config current against its source file. A failed
// reload (unreadable file, parse error, validation failure) leaves the
// previous configuration in place, so a bad edit never takes the service
// down.
type Reloader struct {
	mu sync.RWMutex

	loader  *Loader
	current *Config
	watcher *FileWatcher

	subscribers []func(old, updated *Config)

	logger *zap.Logger
}

// NewReloader loads the initial configuration through loader and prepares
// a file watcher at pollInterval. The loader must have a config path set.
func NewReloader(loader *Loader, pollInterval time.Duration, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil || loader.configPath == "" {
		return nil, fmt.Errorf("reloader requires a loader with a config path")
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	r := &Reloader{
		loader:  loader,
		current: cfg,
		watcher: NewFileWatcher(loader.configPath, pollInterval, logger),
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
	r.watcher.OnChange(func() {
		if err := r.Reload(); err != nil {
			r.logger.Warn("config reload rejected, keeping previous", zap.Error(err))
		}
	})
	return r, nil
}

// Current returns the active configuration. Callers must treat it as
// read-only; a reload swaps the pointer rather than mutating in place.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Subscribe registers a callback invoked after each applied reload with
// the previous and the new configuration. Callbacks run on the reload
// goroutine and should return quickly.
func (r *Reloader) Subscribe(fn func(old, updated *Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Reload re-resolves the configuration and applies it if valid and
// different from the current one. Identical results are dropped silently.
func (r *Reloader) Reload() error {
	cfg, err := r.loader.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	if reflect.DeepEqual(old, cfg) {
		r.mu.Unlock()
		return nil
	}
	r.current = cfg
	subscribers := r.subscribers
	r.mu.Unlock()

	r.logger.Info("config reloaded")
	for _, fn := range subscribers {
		fn(old, cfg)
	}
	return nil
}

// Start begins watching the config file for changes.
func (r *Reloader) Start(ctx context.Context) {
	r.watcher.Start(ctx)
}

// Stop halts the file watcher.
func (r *Reloader) Stop() {
	r.watcher.Stop()
}
