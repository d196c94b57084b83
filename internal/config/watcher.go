package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the file.
const DefaultWatchInterval = 5 * time.Second

// Reload describes an accepted config change. Old is the config that was
// running, New the one that replaces it, and Diff what differs between them.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every change that alters a setting to
// its apply function. Invalid files are logged once per version and never
// replace the running config. Edits that only touch comments or formatting
// update nothing.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Reload)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    fileStamp
	reloads int

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger used for reload and rejection messages.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it in the background. apply may be
// nil, in which case the watcher only tracks [Watcher.Current].
func NewWatcher(path string, apply func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current = cfg
	w.seen = stamp

	go w.loop()
	return w, nil
}

// Current returns the config that is in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reloads returns how many changes have been handed to apply.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Run blocks until ctx is done or the watcher is stopped, then stops it.
func (w *Watcher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-w.done:
	}
	w.Stop()
	return nil
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if r, ok := w.poll(); ok && w.apply != nil {
				w.apply(r)
			}
		}
	}
}

// poll looks at the file once and reports a reload when one should be applied.
func (w *Watcher) poll() (Reload, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return Reload{}, false
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return Reload{}, false
	}

	data, stamp, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: read failed", "path", w.path, "err", err)
		return Reload{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = stamp
	if stamp.sum == seen.sum {
		return Reload{}, false
	}

	cfg, err := parse(data)
	if err != nil {
		w.log.Warn("config watcher: keeping running config, file is invalid", "path", w.path, "err", err)
		return Reload{}, false
	}

	r := Reload{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	if r.Diff.Empty() {
		w.log.Debug("config watcher: file changed, settings did not", "path", w.path)
		return Reload{}, false
	}
	w.reloads++
	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	return r, true
}

func (w *Watcher) read() ([]byte, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return data, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
