package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the config file whenever it changes on disk and delivers
// the fresh config on the returned channel until ctx is cancelled. This
// is how a long-running watch session picks up a rotated token without a
// restart. The parent directory is watched rather than the file itself
// because editors typically replace the file on save. Reload errors are
// logged and the previous config stays in effect.
func Watch(ctx context.Context, path string) (<-chan *Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	updates := make(chan *Config, 1)
	go func() {
		defer watcher.Close()
		defer close(updates)

		// Editors fire several events per save; debounce them.
		var pending *time.Timer
		var pendingC <-chan time.Time
		base := filepath.Base(path)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending == nil {
					pending = time.NewTimer(200 * time.Millisecond)
					pendingC = pending.C
				} else {
					pending.Reset(200 * time.Millisecond)
				}
			case <-pendingC:
				pending = nil
				pendingC = nil
				cfg, err := Load(path)
				if err != nil {
					log.Printf("Warning: config reload failed: %v", err)
					continue
				}
				select {
				case updates <- cfg:
				default:
					// Consumer lagging, drop the older snapshot.
					select {
					case <-updates:
					default:
					}
					updates <- cfg
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Warning: config watcher error: %v", err)
			}
		}
	}()
	return updates, nil
}
