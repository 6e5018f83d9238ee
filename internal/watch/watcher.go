// Package watch triggers a rebuild when the course sources change on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher debounces file events under a docs directory into rebuild calls.
// Rebuilds run one at a time on the watcher goroutine.
type Watcher struct {
	dir      string
	accepts  func(name string) bool
	debounce time.Duration
	rebuild  func(ctx context.Context) error
	logger   *zap.Logger
}

// New returns a watcher over dir. accepts filters file names; nil accepts every file.
func New(dir string, accepts func(string) bool, debounce time.Duration, rebuild func(ctx context.Context) error, logger *zap.Logger) *Watcher {
	if accepts == nil {
		accepts = func(string) bool { return true }
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, accepts: accepts, debounce: debounce, rebuild: rebuild, logger: logger}
}

// Run watches until ctx ends. A failed rebuild is logged and the watcher keeps going; the
// previously published index stays in service.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()
	if err := w.addTree(fw, w.dir); err != nil {
		return err
	}
	w.logger.Info("watching course sources", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
					// files may have landed before the directory was watched
					pending++
					timer.Reset(w.debounce)
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			pending++
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-timer.C:
			w.logger.Info("course sources changed, rebuilding", zap.Int("events", pending))
			pending = 0
			if err := w.rebuild(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("rebuild after source change failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.accepts(base)
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
