package core

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type watchRoute struct {
	dir   string
	match func(name string) bool
	tag   string
}

// Watcher latches file-change notifications per tag. The render loop reads them
// between ticks with Take, so no callback ever runs on the watcher goroutine.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	routes   []watchRoute

	mutex sync.Mutex
	dirty map[string]bool

	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewWatcher() (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsnotify: fsWatch,
		dirty:    make(map[string]bool),
		done:     make(chan struct{}),
	}, nil
}

// WatchFile reports changes of a single file under tag. The parent directory is
// watched so that editors replacing the file are still noticed.
func (w *Watcher) WatchFile(path, tag string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return w.add(watchRoute{
		dir:   filepath.Dir(abs),
		match: func(name string) bool { return name == abs },
		tag:   tag,
	})
}

// WatchDir reports changes of any file with the given extension inside dir.
func (w *Watcher) WatchDir(dir, ext, tag string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	return w.add(watchRoute{
		dir: abs,
		match: func(name string) bool {
			return filepath.Dir(name) == abs && strings.HasSuffix(name, ext)
		},
		tag: tag,
	})
}

func (w *Watcher) add(r watchRoute) error {
	if w.isClosed {
		return errors.New("watcher already closed")
	}
	if err := w.fsnotify.Add(r.dir); err != nil {
		return err
	}
	w.routes = append(w.routes, r)
	return nil
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.start()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(e.Name)
			if err != nil {
				continue
			}
			for _, r := range w.routes {
				if r.match(name) {
					LogDebug("change detected on `%s` (%s)", name, r.tag)
					w.mutex.Lock()
					w.dirty[r.tag] = true
					w.mutex.Unlock()
				}
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			LogError("file watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

// Take reports whether tag changed since the last call and clears it.
func (w *Watcher) Take(tag string) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	changed := w.dirty[tag]
	delete(w.dirty, tag)
	return changed
}

func (w *Watcher) Close() error {
	if w.isClosed {
		return nil
	}
	w.isClosed = true
	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}
