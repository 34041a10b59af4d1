package build

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/proofbench/proofbench/internal/logging"
)

// DefaultDebounce coalesces editor save bursts into one rebuild.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reruns an action when files under the watched paths change.
type Watcher struct {
	Logger   *slog.Logger
	Debounce time.Duration
}

// WatchPaths returns the directories a rebuild should react to: every step's
// build context and every snapshot source. Snapshot destinations are excluded
// so the rebuild's own copies do not retrigger it.
func WatchPaths(doc *Document) (paths, excluded []string) {
	seen := map[string]bool{}
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		paths = append(paths, path)
	}

	for _, step := range doc.ResolvedSteps() {
		add(filepath.Dir(step.Dockerfile))
		add(step.Context)
	}
	for _, snapshot := range doc.Snapshots {
		add(absPath(doc.Dir(), snapshot.Source))
		excluded = append(excluded, absPath(doc.Dir(), snapshot.Dest))
	}
	return paths, excluded
}

// Watch blocks until ctx is cancelled, invoking action after each debounced
// burst of changes. Action failures are reported and watching continues.
func (w *Watcher) Watch(ctx context.Context, paths, excluded []string, action func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	logger := logging.Ensure(w.Logger)

	watched := 0
	for _, path := range paths {
		added, err := addRecursive(watcher, path, excluded)
		if err != nil {
			logger.Warn("cannot watch path", "path", path, "error", err)
			continue
		}
		watched += added
	}
	if watched == 0 {
		return errors.New("no watchable paths")
	}
	logger.Info("watching for changes", "directories", watched)

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(event) || underAny(event.Name, excluded) {
				continue
			}
			logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := addRecursive(watcher, event.Name, excluded); err != nil {
						logger.Debug("cannot watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)

		case <-timer.C:
			logger.Info("change settled, rebuilding")
			if err := action(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("rebuild failed", "error", err)
			}
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string, excluded []string) (int, error) {
	added := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDirName(d.Name()) {
			return filepath.SkipDir
		}
		if underAny(path, excluded) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

// skipDirName filters trees that churn on every build.
func skipDirName(name string) bool {
	return strings.HasPrefix(name, ".") || name == "target"
}

func relevantEvent(event fsnotify.Event) bool {
	return event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if within(root, path) {
			return true
		}
	}
	return false
}
