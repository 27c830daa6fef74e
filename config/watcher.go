package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands every valid
// result to the registered callbacks. Invalid files are logged and ignored;
// the last good config stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger
	fsw      *fsnotify.Watcher

	mu        sync.RWMutex
	current   *Config
	callbacks []func(old, updated *Config)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher watches initial.Path. The directory is watched rather than the
// file so editors that replace the file on save are still seen.
func NewWatcher(initial *Config, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if initial == nil || initial.Path == "" {
		return nil, errors.New("config: watcher needs a config loaded from a file")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(initial.Path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", initial.Path, err)
	}
	w := &Watcher{
		path:     filepath.Clean(initial.Path),
		debounce: debounce,
		log:      log.Named("config"),
		fsw:      fsw,
		current:  initial,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	w.log.Info("watching config file", zap.String("path", w.path))
	return w, nil
}

// OnChange registers cb. Callbacks run sequentially on the watcher goroutine.
func (w *Watcher) OnChange(cb func(old, updated *Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, cb)
	w.mu.Unlock()
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop ends watching and waits for the loop to exit. Idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) reload() {
	updated, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	cbs := make([]func(old, updated *Config), len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	w.log.Info("config reloaded",
		zap.String("path", w.path),
		zap.Strings("changes", diff(old, updated)),
	)
	for i, cb := range cbs {
		w.notify(i, cb, old, updated)
	}
}

func (w *Watcher) notify(i int, cb func(old, updated *Config), old, updated *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config callback panicked", zap.Int("callback", i), zap.Any("panic", r))
		}
	}()
	cb(old, updated)
}

// diff names the runtime-tunable settings that changed.
func diff(a, b *Config) []string {
	var out []string
	if a.Cache.TTL != b.Cache.TTL {
		out = append(out, fmt.Sprintf("cache.ttl: %s -> %s", a.Cache.TTL, b.Cache.TTL))
	}
	if a.Log.Level != b.Log.Level {
		out = append(out, fmt.Sprintf("log.level: %s -> %s", a.Log.Level, b.Log.Level))
	}
	if len(a.Rules) != len(b.Rules) {
		out = append(out, fmt.Sprintf("rules: %d -> %d", len(a.Rules), len(b.Rules)))
	}
	return out
}
