package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileWatcher polls a configuration file for changes and fires callbacks
// when the modification time or size moves. Polling keeps the watcher
// portable; config files change rarely enough that inotify buys nothing.
type FileWatcher struct {
	mu sync.Mutex

	path     string
	interval time.Duration

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	lastMod  time.Time
	lastSize int64

	callbacks []func()

	logger *zap.Logger
}

// NewFileWatcher creates a watcher for path. interval <= 0 defaults to
// 10 seconds.
func NewFileWatcher(path string, interval time.Duration, logger *zap.Logger) *FileWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w := &FileWatcher{
		path:     path,
		interval: interval,
		logger:   logger.With(zap.String("component", "config_watcher")),
	}
	// Seed the baseline so startup state does not count as a change.
	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}
	return w
}

// OnChange registers a callback fired after each detected change.
// Callbacks run on the watcher goroutine.
func (w *FileWatcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start begins polling. It is a no-op if the watcher is already running.
func (w *FileWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))
}

// Stop halts polling and waits for the watcher goroutine to exit.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("config watcher stopped")
}

func (w *FileWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *FileWatcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		// A briefly missing file is normal during atomic replace.
		return
	}

	w.mu.Lock()
	changed := !info.ModTime().Equal(w.lastMod) || info.Size() != w.lastSize
	if changed {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	}
	callbacks := w.callbacks
	w.mu.Unlock()

	if !changed {
		return
	}

	w.logger.Debug("config file changed", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn()
	}
}
