package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"blaulicht/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// settle folds the burst of events a single save produces into one reload.
const settle = 200 * time.Millisecond

// Watch calls onChange whenever the content of one of paths changes, until
// ctx is done. Parent directories are watched rather than the files so that
// editors which replace the file on save are noticed too.
func Watch(ctx context.Context, log logger.Logger, paths []string, onChange func(path string)) error {
	l := log.With(logger.Fields{"module": "watcher"})
	if len(paths) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	files := make(map[string]struct{}, len(paths))
	dirs := map[string]struct{}{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	l.Infof("watching %d plugin file(s)", len(files))

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	var pending string

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if _, ok := files[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			pending = ev.Name
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.Warnf("watch: %v", err)
		case <-timer.C:
			l.Infof("change detected in %s, reloading", pending)
			onChange(pending)
		}
	}
}
