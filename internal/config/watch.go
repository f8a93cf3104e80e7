package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads Config from disk whenever the backing file changes
// and hands the new value to onReload, mirroring the teacher's SIGHUP
// "roll" handling (coordinator.go/signal_unix.go) but driven by the
// file itself rather than a signal, per SPEC_FULL.md §3.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	log      *logrus.Entry
	onReload func(Config)
	done     chan struct{}
}

// NewWatcher starts watching path. Call Close to stop.
func NewWatcher(path string, log *logrus.Entry, onReload func(Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, log: log, onReload: onReload, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.log != nil {
					w.log.WithError(err).Warn("config reload failed, keeping previous settings")
				}
				continue
			}
			w.onReload(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.WithError(err).Warn("config watcher error")
			}

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
