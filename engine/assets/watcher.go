// Package assets watches files the engine reloads while running and turns
// changes into engine events.
package assets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/inflight/engine/core"
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

type dirWatch struct {
	code core.EventCode
	exts []string
}

type Watcher struct {
	mutex sync.RWMutex
	// exact file path -> event fired when it changes
	files map[string]core.EventCode
	// watched root -> event fired for files below it
	dirs map[string]dirWatch

	fsnotify *fsnotify.Watcher
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
		files:    make(map[string]core.EventCode),
		dirs:     make(map[string]dirWatch),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}, nil
}

// Start processes file system events on a new goroutine until Close.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.start()
}

// WatchFile fires code whenever path is written, created or renamed over.
// The parent directory is watched since editors often replace files.
func (w *Watcher) WatchFile(path string, code core.EventCode) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return ErrWatcherClosed
	}
	w.files[abs] = code
	return w.fsnotify.Add(filepath.Dir(abs))
}

// WatchDir fires code for changes of files under dir whose extension is one of
// exts. An empty exts matches every file.
func (w *Watcher) WatchDir(dir string, code core.EventCode, exts ...string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return ErrWatcherClosed
	}
	w.dirs[abs] = dirWatch{code: code, exts: exts}
	w.mutex.Unlock()
	return w.watchRecursive(abs, false)
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	w.mutex.Unlock()
	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			w.handle(e)
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() && w.underWatchedDir(e.Name) {
			if err := w.watchRecursive(e.Name, false); err != nil {
				core.LogWarn("asset watcher: cannot watch %s: %s", e.Name, err)
			}
			return
		}
	}
	if e.Op&fsnotify.Remove != 0 {
		// only directories are in the watch list; files make this a no-op
		_ = w.fsnotify.Remove(e.Name)
		return
	}
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	code, ok := w.match(e.Name)
	if !ok {
		return
	}
	core.LogDebug("asset changed: %s (%s)", e.Name, e.Op)
	core.EventFire(core.EventContext{
		Type: code,
		Data: &core.FileEvent{Path: e.Name},
	})
}

func (w *Watcher) match(path string) (core.EventCode, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	if code, ok := w.files[abs]; ok {
		return code, true
	}
	for root, dw := range w.dirs {
		if !isUnder(abs, root) {
			continue
		}
		if len(dw.exts) == 0 {
			return dw.code, true
		}
		for _, ext := range dw.exts {
			if strings.EqualFold(filepath.Ext(abs), ext) {
				return dw.code, true
			}
		}
	}
	return 0, false
}

func (w *Watcher) underWatchedDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	for root := range w.dirs {
		if isUnder(abs, root) {
			return true
		}
	}
	return false
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// watchRecursive adds all directories under the given one to the watch list.
func (w *Watcher) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return nil
		}
		if unWatch {
			return w.fsnotify.Remove(walkPath)
		}
		return w.fsnotify.Add(walkPath)
	})
}
