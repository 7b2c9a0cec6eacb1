package localstore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Invalidator reloads a cache when another process writes the backend's
// data files. It is coarse-grained by design: any matching filesystem event
// triggers a full Reload, never a fine-grained patch.
type Invalidator struct {
	cache    *Cache
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	debounce time.Duration
	logger   Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// WatchBackend starts watching the data files of the cache's active
// backend. The store must be initialized first; backends without on-disk
// files (memory) cannot be watched.
func WatchBackend(cache *Cache, debounce time.Duration, logger Logger) (*Invalidator, error) {
	if cache == nil || cache.store == nil {
		return nil, ErrInvalidInput
	}
	backend := cache.store.Backend()
	if backend == nil {
		return nil, ErrNotInitialized
	}
	filer, ok := backend.(DataFiler)
	if !ok {
		return nil, ErrInvalidInput
	}
	files := filer.DataFiles()
	if len(files) == 0 {
		return nil, ErrInvalidInput
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	if logger == nil {
		logger = noopLogger{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch parent directories: the backends replace files via rename, and a
	// watch on the file itself is lost at the first swap.
	dirs := map[string]struct{}{}
	fileSet := map[string]struct{}{}
	for _, file := range files {
		abs, absErr := filepath.Abs(file)
		if absErr != nil {
			abs = file
		}
		fileSet[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	inv := &Invalidator{
		cache:    cache,
		watcher:  watcher,
		files:    fileSet,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}
	inv.wg.Add(1)
	go inv.run()
	return inv, nil
}

func (inv *Invalidator) run() {
	defer inv.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-inv.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-inv.watcher.Events:
			if !ok {
				return
			}
			if !inv.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(inv.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(inv.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if err := inv.cache.Reload(context.Background()); err != nil {
				inv.logger.Printf("cache reload after backend change failed: %v", err)
			}
		case err, ok := <-inv.watcher.Errors:
			if !ok {
				return
			}
			inv.logger.Printf("backend watch error: %v", err)
		}
	}
}

func (inv *Invalidator) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	if _, ok := inv.files[abs]; ok {
		return true
	}
	// SQLite WAL checkpoints touch sidecar files sharing the db path prefix.
	for file := range inv.files {
		if strings.HasPrefix(abs, file) {
			return true
		}
	}
	return false
}

func (inv *Invalidator) Close() error {
	var err error
	inv.closeOnce.Do(func() {
		close(inv.done)
		err = inv.watcher.Close()
		inv.wg.Wait()
	})
	return err
}
