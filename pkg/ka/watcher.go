package ka

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the registry when plugin sources change on disk.
// Rapid bursts of filesystem events (editor saves, git checkouts) collapse
// into one reload through a debounce window.
type Watcher struct {
	registry *Registry
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	onReload func(names []string)
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

const defaultDebounce = 500 * time.Millisecond

// NewWatcher creates a watcher over the registry's plugin directory.
// onReload, when non-nil, runs after every successful reload with the
// freshly loaded names; wiring uses it to broadcast plugin_loaded frames.
func NewWatcher(registry *Registry, onReload func(names []string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		registry: registry,
		fs:       fs,
		dir:      registry.dir,
		debounce: defaultDebounce,
		onReload: onReload,
		logger:   slog.With("component", "ka_watcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (w *Watcher) Start() error {
	if err := w.fs.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("Watching plugin directory", "dir", w.dir)
	go w.run()
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		if err := w.fs.Close(); err != nil {
			w.logger.Warn("Error closing filesystem watcher", "error", err)
		}
	})
}

// run is the event loop: collect relevant events, arm the debounce timer,
// reload once it fires.
func (w *Watcher) run() {
	defer close(w.doneCh)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Plugin source changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			names, err := w.registry.Reload()
			if err != nil {
				w.logger.Error("Plugin reload failed", "error", err)
				continue
			}
			if w.onReload != nil {
				w.onReload(names)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", "error", err)
		}
	}
}

// relevant filters for create/write/remove/rename of .go sources.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".go" || strings.HasSuffix(event.Name, "_test.go") {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
