package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "editrelay/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes on disk and hands the
// parsed result to OnReload. Invalid files are logged and skipped; the last
// good config stays in effect.
type Watcher struct {
	path string
	log  logx.Logger

	// OnReload receives each successfully parsed and validated config.
	OnReload func(cfg *Config)
}

func NewWatcher(path string, log logx.Logger, onReload func(cfg *Config)) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, log: log, OnReload: onReload}
}

// Watch blocks until ctx is done. Editors produce bursts of events and
// partial writes, so reloads are debounced.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return err
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload rejected", logx.String("path", w.path), logx.Err(err))
				return
			}
			w.log.Info("config reloaded", logx.String("path", w.path))
			if w.OnReload != nil {
				w.OnReload(cfg)
			}
		})
	}

	w.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// Compare by basename: editors rename/replace rather than write in place.
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
