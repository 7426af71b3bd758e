package config

import (
	"fmt"
	"strings"
	"sync"

	"stratexec/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener receives the reloaded configuration.
type ChangeListener func(*Config)

// Watcher reloads the configuration when the main file changes. Only
// settings that are safe to swap at runtime should be read from reloaded
// values; listeners decide what to apply.
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener
	startOnce sync.Once
}

func NewWatcher(path string, initial *Config) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	if initial == nil {
		cfg, err := Load(path)
		if err != nil {
			return nil, err
		}
		initial = cfg
	}
	v := viper.New()
	v.SetConfigFile(path)
	return &Watcher{path: path, v: v, current: initial}, nil
}

// Current returns the last configuration that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Start begins watching the file for writes.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.v.OnConfigChange(func(evt fsnotify.Event) {
			if err := w.Reload(); err != nil {
				logger.Errorf("config reload failed (%s): %v", evt.Name, err)
			}
		})
		w.v.WatchConfig()
		logger.Infof("watching config %s", w.path)
	})
}

// Reload re-reads the file. An invalid file keeps the previous config.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		notify(fn, cfg)
	}
	return nil
}

func notify(fn ChangeListener, cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("config listener panic: %v", r)
		}
	}()
	fn(cfg)
}
