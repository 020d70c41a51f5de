package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	pkgconfig "github.com/0xPuncker/batch-dispatcher/pkg/config"
	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 250 * time.Millisecond

// ReloadFunc receives the freshly parsed trigger file.
type ReloadFunc func(ctx context.Context, specs []types.TriggerSpec) error

// WatchTriggers reloads the trigger file whenever it changes until ctx is done.
// The directory is watched so editors that replace the file are picked up.
func WatchTriggers(ctx context.Context, path string, logger *logrus.Logger, reload ReloadFunc) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	dir, file := filepath.Dir(absPath), filepath.Base(absPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger.WithField("path", absPath).Info("Watching trigger file for changes")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	apply := func() {
		triggers, err := pkgconfig.LoadTriggers(absPath)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"path":  absPath,
				"error": err.Error(),
			}).Warn("Failed to parse trigger file, keeping current triggers")
			return
		}
		if err := reload(ctx, triggers.Triggers); err != nil {
			logger.WithFields(logrus.Fields{
				"path":  absPath,
				"error": err.Error(),
			}).Error("Failed to reload triggers")
			return
		}
		logger.WithFields(logrus.Fields{
			"path":     absPath,
			"triggers": len(triggers.Triggers),
		}).Info("Triggers reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.WithField("op", ev.Op.String()).Debug("Trigger file change detected, scheduling reload")

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, apply)
			timerMu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithField("error", err.Error()).Warn("Trigger file watcher error")
		}
	}
}
