package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is invoked after a watched file changes.
type ChangeHandler func(file string) error

// Watcher watches a configuration directory and dispatches change handlers.
// Writes are debounced because editors and config mounts often produce
// several events per save.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	mu       sync.RWMutex
	handlers map[string][]ChangeHandler
	stopCh   chan struct{}
}

// NewWatcher creates a watcher over dir. Call Start to begin dispatching.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		logger:   logger,
		handlers: make(map[string][]ChangeHandler),
		stopCh:   make(chan struct{}),
	}, nil
}

// OnChange registers a handler for a file name (base name, e.g.
// "providers.yaml").
func (w *Watcher) OnChange(file string, h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[file] = append(w.handlers[file], h)
}

// Start runs the dispatch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			pending[name] = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-ticker.C:
			now := time.Now()
			for name, at := range pending {
				if now.Sub(at) < 200*time.Millisecond {
					continue
				}
				delete(pending, name)
				w.dispatch(name)
			}
		}
	}
}

func (w *Watcher) dispatch(file string) {
	w.mu.RLock()
	handlers := append([]ChangeHandler(nil), w.handlers[file]...)
	w.mu.RUnlock()
	for _, h := range handlers {
		if err := h(file); err != nil {
			w.logger.Error("Config change handler failed",
				zap.String("file", file),
				zap.Error(err),
			)
		} else {
			w.logger.Info("Configuration file reloaded", zap.String("file", file))
		}
	}
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}
