package pwconfig

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pwcore/node-graph/pwerrno"
)

// ReloadCallback is invoked with the freshly decoded Config after a watched
// file changes (spec §10 ambient stack: "the Control.OnReload hook").
type ReloadCallback func(*Config) error

// Watcher watches a config file for changes and re-Loads + dispatches to
// registered callbacks on write, debouncing rapid successive writes.
//
// Grounded on teranos-QNTX's am/watcher.go ConfigWatcher: same debounce-
// timer-plus-callback-list shape and own-write guard, adapted to this
// package's Load instead of a package-global config singleton.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration

	mu        sync.Mutex
	callbacks []ReloadCallback
	timer     *time.Timer

	ownWriteMu sync.Mutex
	ownWrite   bool
}

// NewWatcher opens an fsnotify watch on path's containing directory (rather
// than the file itself, so editors that replace-via-rename still trigger).
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "pwconfig.NewWatcher", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, pwerrno.New(pwerrno.ENOENT, "pwconfig.NewWatcher", err)
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		log:      log,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnReload registers a callback invoked (in registration order) after each
// successful reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// MarkOwnWrite suppresses the next observed write to path, for a caller
// that is about to rewrite the config file itself (e.g. WritePluginConfig-
// style round trips) and does not want to trigger a self-reload.
func (w *Watcher) MarkOwnWrite() {
	w.ownWriteMu.Lock()
	w.ownWrite = true
	w.ownWriteMu.Unlock()
}

func (w *Watcher) checkOwnWrite() bool {
	w.ownWriteMu.Lock()
	defer w.ownWriteMu.Unlock()
	if w.ownWrite {
		w.ownWrite = false
		return true
	}
	return false
}

// Start begins watching on its own goroutine.
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if w.checkOwnWrite() {
				w.log.Debug("pwconfig: ignoring own write", zap.String("path", w.path))
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("pwconfig: watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("pwconfig: reload failed", zap.Error(err))
		return
	}
	w.log.Info("pwconfig: reloaded", zap.String("path", w.path))

	w.mu.Lock()
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			w.log.Warn("pwconfig: reload callback failed", zap.Error(err))
		}
	}
}

// Stop closes the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
