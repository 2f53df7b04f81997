/*
 * backend/internal/config/watcher.go
 *
 * Settings file watcher. Re-resolves the settings after on-disk changes so
 * reloadable knobs (auth token, throttle intervals, trace timeout) apply
 * without a restart.
 */

package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const settingsWatcherDebounce = 500 * time.Millisecond

// Watcher observes the settings file and invokes onChange with the freshly
// resolved settings after edits settle.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	onChange  func(Settings)
	onError   func(error)
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewWatcher starts watching the directory that holds the settings file.
// Editors replace files rather than writing in place, so watching the
// directory survives rename-based saves.
func NewWatcher(path string, onChange func(Settings), onError func(error)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:      filepath.Clean(path),
		watcher:   fsWatcher,
		onChange:  onChange,
		onError:   onError,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	go w.eventLoop()
	return w, nil
}

func (w *Watcher) eventLoop() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(settingsWatcherDebounce)
			debounceCh = debounceTimer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}

		case <-debounceCh:
			debounceCh = nil
			if !pending {
				continue
			}
			pending = false
			settings, err := LoadSettings(w.path)
			if err != nil {
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			if w.onChange != nil {
				w.onChange(settings)
			}
		}
	}
}

// Close stops the watcher and waits for its event loop to exit.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.stoppedCh
	return err
}
