package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config directory for create/write/remove events and
// invokes onChange(id, removed) for each. It only reports that a source's
// or thread's persisted configuration changed; applying the change is up
// to onChange.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, onChange func(id string, removed bool)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory %v: %w", dir, err)
	}

	w := &Watcher{fsw: fsw}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func(id string, removed bool)) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(event.Name), ".json")

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				onChange(id, false)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				onChange(id, true)
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
