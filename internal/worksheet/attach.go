package worksheet

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// attachWatcher accumulates change notifications for attached files. The
// engine never blocks on it: events collect in a background goroutine and
// the preparer drains the dirty set just before each execution.
type attachWatcher struct {
	w *fsnotify.Watcher

	mu    sync.Mutex
	dirty map[string]bool
}

func newAttachWatcher() (*attachWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	aw := &attachWatcher{w: w, dirty: make(map[string]bool)}
	go aw.run()
	return aw, nil
}

func (aw *attachWatcher) run() {
	for {
		select {
		case ev, ok := <-aw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				aw.mu.Lock()
				aw.dirty[ev.Name] = true
				aw.mu.Unlock()
			}
		case _, ok := <-aw.w.Errors:
			if !ok {
				return
			}
		}
	}
}

func (aw *attachWatcher) watch(path string) {
	// best effort; mtime polling covers files the watcher cannot
	aw.w.Add(path)
}

func (aw *attachWatcher) unwatch(path string) {
	aw.w.Remove(path)
	aw.mu.Lock()
	delete(aw.dirty, path)
	aw.mu.Unlock()
}

// drain returns and clears the set of paths reported changed since the last
// call.
func (aw *attachWatcher) drain() []string {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	paths := make([]string, 0, len(aw.dirty))
	for p := range aw.dirty {
		paths = append(paths, p)
	}
	aw.dirty = make(map[string]bool)
	return paths
}

func (aw *attachWatcher) close() {
	aw.w.Close()
}
