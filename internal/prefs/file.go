package prefs

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/timvw/park-patrol/internal/logging"
)

// FileStore reads preferences from a YAML file and watches it for edits.
// A reload that fails to parse keeps the previous snapshot.
type FileStore struct {
	path     string
	v        *viper.Viper
	defaults Snapshot
	log      *slog.Logger

	mu        sync.RWMutex
	snap      Snapshot
	listeners []Listener
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithDefaults sets the values used for keys the file leaves blank, e.g. a
// credential resolved from the environment.
func WithDefaults(s Snapshot) FileOption {
	return func(f *FileStore) { f.defaults = s }
}

// WithLogger sets the logger for reload events.
func WithLogger(l *slog.Logger) FileOption {
	return func(f *FileStore) {
		if l != nil {
			f.log = l
		}
	}
}

// OpenFile loads path and starts watching it. Watching stops when the
// process exits.
func OpenFile(path string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preferences file path is empty")
	}
	f := &FileStore{path: path, defaults: Defaults(), log: logging.Discard()}
	for _, opt := range opts {
		opt(f)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading preferences %s: %w", path, err)
	}
	f.v = v
	if err := f.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(evt fsnotify.Event) {
		prev := f.Snapshot()
		if err := f.reload(); err != nil {
			f.log.Error("preferences reload failed", "file", evt.Name, "error", err)
			return
		}
		next := f.Snapshot()
		if next == prev {
			return
		}
		f.notify(next)
	})
	v.WatchConfig()
	return f, nil
}

func (f *FileStore) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// Subscribe registers fn. Listeners run one at a time on the watcher
// goroutine, in registration order, so they observe reloads in the order the
// file changed. A panicking listener is logged and does not affect the others.
func (f *FileStore) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *FileStore) notify(s Snapshot) {
	f.mu.RLock()
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.RUnlock()
	for _, fn := range listeners {
		f.call(fn, s)
	}
}

func (f *FileStore) call(fn Listener, s Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("preferences listener panic", "panic", r)
		}
	}()
	fn(s)
}

func (f *FileStore) reload() error {
	var raw Snapshot
	if err := f.v.Unmarshal(&raw, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parsing preferences: %w", err)
	}
	snap, err := raw.Normalize(f.defaults)
	if err != nil {
		return fmt.Errorf("parsing preferences: %w", err)
	}
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	f.log.Info("preferences loaded", "file", f.path, "vision", snap.Vision, "decision", snap.Decision, "vehicle", snap.VehicleType)
	return nil
}
