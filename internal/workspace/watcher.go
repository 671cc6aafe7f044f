package workspace

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow is how long a file must go quiet before its change
// event is delivered, coalescing editor auto-save bursts and git
// checkouts into one indexing pass (spec.md §4.8, item 3).
const debounceWindow = 200 * time.Millisecond

// fileExtensions lists the source extensions the watcher reports
// changes for; everything else in the tree is ignored.
var fileExtensions = []string{".groovy", ".gradle", ".gradle.kts"}

// excludedDirs are directory names the watcher never descends into.
var excludedDirs = []string{".git", "build", ".gradle", "target", "out", "node_modules"}

// changeEvent is one debounced file-change notification.
type changeEvent struct {
	path string
	op   fsnotify.Op
}

// fsWatcher wraps fsnotify.Watcher with the root-walking, extension
// filtering, and debounce the teacher's watcher package implements.
type fsWatcher struct {
	inner  *fsnotify.Watcher
	events chan changeEvent
	errors chan error
	done   chan struct{}
}

func newFSWatcher(root string) (*fsWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &fsWatcher{
		inner:  inner,
		events: make(chan changeEvent, 256),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
	}

	if err := w.addDirs(root); err != nil {
		inner.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *fsWatcher) Close() {
	close(w.done)
	w.inner.Close()
}

func (w *fsWatcher) loop() {
	debounce := make(map[string]*time.Timer)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.inner.Events:
			if !ok {
				return
			}
			if !matchesExtension(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			path, op := event.Name, event.Op
			if timer, exists := debounce[path]; exists {
				timer.Stop()
			}
			debounce[path] = time.AfterFunc(debounceWindow, func() {
				select {
				case w.events <- changeEvent{path: path, op: op}:
				case <-w.done:
				}
				delete(debounce, path)
			})

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *fsWatcher) addDirs(root string) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if isExcludedDir(info.Name()) {
				return filepath.SkipDir
			}
			return w.inner.Add(path)
		}
		return nil
	})
}

func isExcludedDir(name string) bool {
	for _, ex := range excludedDirs {
		if name == ex {
			return true
		}
	}
	return false
}

func matchesExtension(path string) bool {
	for _, ext := range fileExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
