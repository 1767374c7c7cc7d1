package shadercache

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watcher evicts cache entries whose source file changes on disk and tells the
// caller which shader changed.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Watch starts watching the directories holding the given source files.
// onChange runs on the watcher goroutine; it may be nil.
func (c *Cache) Watch(paths []string, onChange func(name string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create shader watcher")
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, errors.Wrapf(err, "watch %s", dir)
		}
	}

	w := &Watcher{cache: c, watcher: fw, done: make(chan struct{})}
	w.wg.Add(1)
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(string)) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := StageOf(event.Name); err != nil {
				continue
			}
			name := NameOf(event.Name)
			if w.cache.Evict(name) {
				w.cache.diag.Info("shader source changed", "shader", name)
			}
			if onChange != nil {
				onChange(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.cache.diag.Warn("shader watcher error", "error", err)
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
