package hosts

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/gangway/internal/logger"
)

// reloadDebounce coalesces the event bursts editors produce when saving.
const reloadDebounce = 50 * time.Millisecond

// Store serves the current host directory and reloads the hosts file
// when it changes on disk, so new entries are resolvable without a
// restart. A rewrite that fails to parse keeps the previous entries.
type Store struct {
	path    string
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	dir *Directory
}

// Open loads the hosts file and starts watching it. The parent
// directory is watched, not the file itself, so editors that replace
// the file by rename are still seen. If no watcher can be established
// the Store serves the startup snapshot.
func Open(path string) (*Store, error) {
	dir, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, dir: dir}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("hosts file watch unavailable", "path", path, "err", err)
		return s, nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("hosts file watch unavailable", "path", path, "err", err)
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *Store) watch() {
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, s.reload)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) reload() {
	dir, err := Load(s.path)
	if err != nil {
		logger.Warn("hosts file reload failed, keeping previous entries",
			"path", s.path, "err", err)
		return
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
	logger.Info("hosts file reloaded", "path", s.path, "hosts", len(dir.hosts))
}

// Resolve maps a symbolic name against the current directory.
func (s *Store) Resolve(name string) (Params, error) {
	return s.snapshot().Resolve(name)
}

// Names returns the currently configured host names.
func (s *Store) Names() []string {
	return s.snapshot().Names()
}

func (s *Store) snapshot() *Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// Close stops watching. The last loaded directory keeps serving.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
