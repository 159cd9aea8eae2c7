package settings

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/given/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last change to a
// file before its cache entry is invalidated.
const DefaultDebounceInterval = 200 * time.Millisecond

// watcher watches the directories of settings files. Editors often replace
// files by rename, so directories are watched rather than the files.
type watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	dirs     map[string]bool
	files    map[string]bool
	timers   map[string]*time.Timer
	onChange func(path string)
	stopCh   chan struct{}
	stopped  bool
}

func newWatcher(onChange func(path string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	w := &watcher{
		fs:       fsw,
		dirs:     make(map[string]bool),
		files:    make(map[string]bool),
		timers:   make(map[string]*time.Timer),
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}

	// Capture channels before starting so stop() can't race the reads.
	go w.processEvents(fsw.Events, fsw.Errors)
	return w, nil
}

func (w *watcher) add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	path = filepath.Clean(path)
	w.files[path] = true

	dir := filepath.Dir(path)
	if w.dirs[dir] {
		return
	}
	if err := w.fs.Add(dir); err != nil {
		logging.Warn("Settings", "Failed to watch %s: %v", dir, err)
		return
	}
	w.dirs[dir] = true
	logging.Debug("Settings", "Watching %s for settings changes", dir)
}

func (w *watcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Settings", err, "fsnotify error")
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] || w.stopped {
		return
	}

	logging.Debug("Settings", "Settings file changed: %s", path)
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(DefaultDebounceInterval, func() {
		w.mu.Lock()
		stopped := w.stopped
		delete(w.timers, path)
		w.mu.Unlock()
		if !stopped {
			w.onChange(path)
		}
	})
}

func (w *watcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.fs.Close()
}
