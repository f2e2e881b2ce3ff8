package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

// Watch re-loads the config whenever the file changes and calls onChange
// with the new value. Invalid edits are logged and skipped; the previous
// config stays in effect. Blocks until ctx is done.
//
// Watching the parent directory (not the file) survives editors that
// replace the file via rename.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(path)
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire several events per save; collapse them.
			if debounce == nil {
				debounce = time.NewTimer(250 * time.Millisecond)
				debounceC = debounce.C
			} else {
				debounce.Reset(250 * time.Millisecond)
			}
		case <-debounceC:
			debounce = nil
			debounceC = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed; keeping previous", logx.Err(err))
				continue
			}
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logx.Err(err))
		}
	}
}
