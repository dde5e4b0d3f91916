package storage

import (
	"fmt"
	"sync"

	"TrackVault/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports tracks whose files disappear from the local tier behind the
// service's back (manual cleanup, another tool), so cached metadata can be
// dropped instead of pointing at a missing file.
type Watcher struct {
	store    *LocalStore
	watcher  *fsnotify.Watcher
	onRemove func(trackID string)
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher starts watching the tier directory.
func NewWatcher(store *LocalStore, onRemove func(trackID string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(store.BaseDir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.BaseDir(), err)
	}

	w := &Watcher{
		store:    store,
		watcher:  fw,
		onRemove: onRemove,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			id, ok := w.store.TrackIDFromPath(event.Name)
			if !ok {
				continue
			}
			logger.Debug("local file removed, invalidating cache",
				logger.String("trackId", id),
				logger.String("path", event.Name))
			w.onRemove(id)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("fs watcher error", logger.ErrorField(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
