package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounce absorbs the burst of events a single editor save produces.
const debounce = 200 * time.Millisecond

// Watch reloads path through LoadFile whenever it changes and passes the
// result to onChange. Files that fail to load are logged and skipped. The
// parent directory is watched so atomic rename-on-save is seen. Watch
// blocks until ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	log.Info().Str("path", abs).Msg("config event=watch_start")

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config event=watch_error")
		case <-timer.C:
			cfg, err := LoadFile(abs)
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("config event=reload_failed")
				continue
			}
			log.Info().Str("path", abs).Msg("config event=reloaded")
			onChange(cfg)
		}
	}
}
