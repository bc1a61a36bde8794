package config

import (
	"bytes"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "config")

// AdminSecretWatcher holds the admin shared secret read from a file and
// kept fresh by watching that file for writes, so rotating the secret on
// disk doesn't require restarting the process. This never touches the
// RSA trapdoor lambda, which is process-memory-only and has no on-disk
// representation to watch.
type AdminSecretWatcher struct {
	path string

	mu     sync.RWMutex
	secret []byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAdminSecretWatcher reads path once synchronously, then starts a
// background watch for subsequent writes.
func NewAdminSecretWatcher(path string) (*AdminSecretWatcher, error) {
	w := &AdminSecretWatcher{path: path, done: make(chan struct{})}
	if err := w.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", path)
	}
	w.watcher = watcher
	go w.watchLoop()
	return w, nil
}

func (w *AdminSecretWatcher) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read admin secret file %s", w.path)
	}
	raw = bytes.TrimSpace(raw)
	w.mu.Lock()
	w.secret = raw
	w.mu.Unlock()
	return nil
}

func (w *AdminSecretWatcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				log.WithError(err).Warn("failed to reload admin secret after file change")
			} else {
				log.Info("admin secret reloaded")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("admin secret watcher error")
		}
	}
}

// Current returns the currently loaded secret bytes.
func (w *AdminSecretWatcher) Current() []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.secret
}

// Close stops the background watch.
func (w *AdminSecretWatcher) Close() error {
	close(w.done)
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
