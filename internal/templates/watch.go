package templates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the catalog whenever a YAML file in its directory changes and
// blocks until ctx is done. A failed reload is logged and the previous
// templates remain active.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("templates: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("templates: watch %s: %w", c.dir, err)
	}

	c.log.Info("watching templates", slog.String("dir", c.dir))

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
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
			if !isYAML(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Editors emit bursts of events per save.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			trigger = timer.C

		case <-trigger:
			trigger = nil
			if err := c.Reload(); err != nil {
				c.log.Error("template reload failed, keeping previous catalog", slog.Any("error", err))
				continue
			}
			c.log.Info("templates reloaded", slog.Any("languages", c.Languages()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("template watcher error", slog.Any("error", err))
		}
	}
}
