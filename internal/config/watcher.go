package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/observability"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file when it changes and reports the new
// contents. Editors often replace files instead of writing them, so the
// parent directory is watched and events are filtered by name.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	logger   logrus.FieldLogger
	debounce time.Duration
	onChange func(Config)

	mu   sync.Mutex
	last Config
}

func NewWatcher(path string, logger logrus.FieldLogger, onChange func(Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	initial, err := Load(abs)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		fs:       fs,
		logger:   observability.OrDiscard(logger).WithField("config", abs),
		debounce: defaultDebounce,
		onChange: onChange,
		last:     initial,
	}, nil
}

// Current is the most recently loaded config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run delivers reloads until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	var fire <-chan time.Time
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("config watch error")
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("config reload failed; keeping previous settings")
		return
	}
	w.mu.Lock()
	w.last = cfg
	w.mu.Unlock()
	w.logger.Info("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
