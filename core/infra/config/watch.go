package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultSeedDebounce = 250 * time.Millisecond

// SeedWatcher reloads the seed file when it changes on disk. The parent
// directory is watched so editors that replace the file are noticed.
type SeedWatcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewSeedWatcher starts watching path. A zero debounce uses the default.
func NewSeedWatcher(path string, debounce time.Duration) (*SeedWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("seed path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve seed path: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultSeedDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &SeedWatcher{path: abs, debounce: debounce, watcher: w}, nil
}

// Run delivers every successfully parsed seed to onChange until ctx is
// done. Bursts of events within the debounce window cause one reload.
// Seeds that fail to load are logged and skipped.
func (s *SeedWatcher) Run(ctx context.Context, onChange func(context.Context, *Seed)) error {
	defer s.watcher.Close()

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(s.debounce)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("config", "seed watcher error", "path", s.path, "error", err)
		case <-timer.C:
			seed, err := LoadSeed(s.path)
			if err != nil {
				logging.Warn("config", "seed reload skipped", "path", s.path, "error", err)
				continue
			}
			logging.Info("config", "seed reloaded", "path", s.path, "categories", len(seed.Categories))
			onChange(ctx, seed)
		}
	}
}
