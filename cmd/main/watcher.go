package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long a path must stay quiet before its callback runs.
// Editors and atomic writers produce several events per save.
const reloadDebounce = 150 * time.Millisecond

type watchRule struct {
	dir      string
	match    func(name string) bool
	onChange func(path string)
}

// FileWatcher calls back when matching files in watched directories change.
// Directories are watched rather than files so atomic rename-over writes are seen.
type FileWatcher struct {
	fw      *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
	stopped bool
	mu      sync.Mutex
	rules   []watchRule
	timers  map[string]*time.Timer
}

// NewFileWatcher creates a watcher and starts its event loop.
func NewFileWatcher(logger *slog.Logger) (*FileWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &FileWatcher{
		fw:     fw,
		logger: logger,
		done:   make(chan struct{}),
		timers: make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Watch registers onChange for files in dir whose base name satisfies match.
func (w *FileWatcher) Watch(dir string, match func(name string) bool, onChange func(path string)) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return fmt.Errorf("file watcher is stopped")
	}
	if err = w.fw.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absDir, err)
	}
	w.rules = append(w.rules, watchRule{dir: absDir, match: match, onChange: onChange})
	w.logger.Debug("Watching directory for changes", "dir", absDir)
	return nil
}

// WatchFile registers onChange for a single file.
func (w *FileWatcher) WatchFile(path string, onChange func(path string)) error {
	base := filepath.Base(path)
	return w.Watch(filepath.Dir(path), func(name string) bool { return name == base }, onChange)
}

func (w *FileWatcher) loop() {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.dispatch(event.Name)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// dispatch (re)arms the debounce timer of every rule matching path.
func (w *FileWatcher) dispatch(path string) {
	dir, name := filepath.Dir(path), filepath.Base(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	for i, rule := range w.rules {
		if rule.dir != dir || !rule.match(name) {
			continue
		}
		key := fmt.Sprintf("%d:%s", i, path)
		if t, ok := w.timers[key]; ok {
			t.Reset(reloadDebounce)
			continue
		}
		onChange := rule.onChange
		w.timers[key] = time.AfterFunc(reloadDebounce, func() {
			w.mu.Lock()
			delete(w.timers, key)
			stopped := w.stopped
			w.mu.Unlock()
			if !stopped {
				onChange(path)
			}
		})
	}
}

// Stop ends monitoring and releases all resources. Safe to call multiple times.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	close(w.done)
	return w.fw.Close()
}
