package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the config file whenever it changes and hands the result
// to onReload. It blocks until ctx is cancelled. Events are debounced so
// editors that write in several steps trigger one reload.
//
// The parent directory is watched, not the file itself: atomic saves
// replace the inode and a file watch would go stale.
func Watch(ctx context.Context, path string, debounce time.Duration, log zerolog.Logger, onReload func(*Root)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	log.Info().Str("path", path).Msg("config watcher started")

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("config watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounce, func() {
					select {
					case pending <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounce)
			}

		case <-pending:
			timer = nil
			cfg, err := Load(path)
			if err != nil {
				// keep running with the previous config
				log.Error().Err(err).Msg("config reload failed")
				continue
			}
			log.Info().Msg("config reloaded")
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
