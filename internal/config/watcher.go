package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"sentinel/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the parsed result to
// OnChange. Only tunable values (tolerances, retry budgets, intervals read
// per cycle) take effect without a restart; structural settings such as the
// database path are applied only at startup.
type Watcher struct {
	path     string
	onChange func(*Config)
}

func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Run blocks until ctx is done. Editors often replace the file instead of
// writing in place, so the parent directory is watched and events are
// debounced before reloading.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.onChange == nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)
	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			logger.Warnf("config reload failed, keeping previous values: %v", err)
			return
		}
		logger.Infof("config reloaded from %s", w.path)
		w.onChange(cfg)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
