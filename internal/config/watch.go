package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk. New sessions pick
// up ICE and media settings from the reloaded config; existing connections
// are untouched.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path and calls onChange with each successfully
// reloaded config. Editors often emit several events per save, so events are
// debounced; reload errors are logged and the previous config stays active.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory, not the file: many editors replace the file on
	// save, which would drop a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(*Config)) {
	var pending <-chan time.Time
	base := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending = time.After(250 * time.Millisecond)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG: watch error: %v", err)
		case <-pending:
			pending = nil
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("CONFIG: reload failed, keeping previous: %v", err)
				continue
			}
			log.Printf("CONFIG: reloaded %s", w.path)
			onChange(cfg)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
