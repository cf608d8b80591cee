package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDrillFile reloads the drill whenever its file is written or replaced and
// emits DrillLoaded. The directory is watched rather than the file so editors that
// save by rename keep working. Invalid drills are logged and skipped; the daemon
// keeps the previous one.
func watchDrillFile(ctx context.Context, path string, events chan<- Event, debounce time.Duration, logger *slog.Logger) error {
	target, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return fmt.Errorf("resolve drill path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create drill watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	logger.Info("watching drill file", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Editors often write in several chunks; reload once they settle.
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			d, err := LoadDrillFile(target)
			if err != nil {
				logger.Warn("drill reload failed", "path", target, "error", err)
				continue
			}
			logger.Info("drill reloaded", "path", target, "mode", d.Mode)
			select {
			case events <- DrillLoaded{Drill: d, Source: target}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("drill watcher error", "error", err)
		}
	}
}
