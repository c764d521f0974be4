package main

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// configWatcher signals when the config file is written, created or
// replaced. The directory is watched so editors that save via rename are
// still seen.
type configWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	log      *zap.Logger
	debounce time.Duration
	changes  chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newConfigWatcher(path string, debounce time.Duration, logger *zap.Logger) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &configWatcher{
		watcher:  watcher,
		path:     abs,
		log:      logger,
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes delivers at most one pending notification.
func (w *configWatcher) Changes() <-chan struct{} { return w.changes }

// Close stops watching and waits for the event loop to exit.
func (w *configWatcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *configWatcher) run() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("config file event", zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}
