package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"segchain/internal/slot"
)

// reloadSettle coalesces editor write bursts into one reload.
const reloadSettle = 100 * time.Millisecond

// Watch reloads the config file whenever it changes and publishes every valid
// version into out. Invalid versions are logged and skipped so the previous
// config stays in force.
func Watch(ctx context.Context, path, schemaPath string, out *slot.Slot[*Config], logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// editors replace files by rename, so watch the directory
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	logger.Info("watching config", "path", target)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(reloadSettle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", "err", err)
		case <-pending:
			pending = nil
			cfg, err := Load(path, schemaPath)
			if err != nil {
				logger.Warn("config reload rejected, keeping previous", "err", err)
				continue
			}
			out.Put(cfg)
			logger.Info("config reloaded", "path", target)
		}
	}
}
