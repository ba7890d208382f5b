package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watcherTick is how often pending events are checked.
	watcherTick = 500 * time.Millisecond

	// watcherQuiet is how long a file must go without events before it
	// is reported, so an editor's burst of writes becomes one edit.
	watcherQuiet = 300 * time.Millisecond
)

// Edit is an external change to a file in a Folder.
type Edit struct {
	CloudFileID string
	Content     string
	At          time.Time
}

// EditFunc receives external edits.
type EditFunc func(ctx context.Context, e Edit)

// Watcher reports external writes to a Folder. Writes made by the Folder
// itself are recognised by content hash and dropped.
type Watcher struct {
	folder  *Folder
	onEdit  EditFunc
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a Watcher that calls onEdit for every external edit.
func NewWatcher(folder *Folder, onEdit EditFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		folder: folder,
		onEdit: onEdit,
		logger: logger.With(slog.String("component", "folder_watcher")),
	}
}

// Watch blocks until ctx is cancelled. Directories are watched
// recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := w.addRecursive(w.folder.Dir()); err != nil {
		return fmt.Errorf("watching folder: %w", err)
	}

	w.logger.Info("folder watcher started", slog.String("dir", w.folder.Dir()))

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(watcherTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if event.Has(fsnotify.Create) {
					info, err := os.Lstat(event.Name)
					if err == nil && info.IsDir() {
						_ = w.addRecursive(event.Name)
						continue
					}
				}

				pending[event.Name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < watcherQuiet {
					continue
				}

				delete(pending, path)
				w.handleWrite(ctx, path)
			}
		}
	}
}

func (w *Watcher) handleWrite(ctx context.Context, absPath string) {
	rel, err := filepath.Rel(w.folder.Dir(), absPath)
	if err != nil {
		w.logger.Warn("computing relative path", slog.String("error", err.Error()))
		return
	}

	rel = normalizePath(rel)

	info, err := os.Lstat(absPath)
	if err != nil || info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
		return
	}

	w.folder.mu.RLock()
	content, err := os.ReadFile(absPath) //nolint:gosec // G304: path comes from watching Folder.Dir
	w.folder.mu.RUnlock()

	if err != nil {
		w.logger.Warn("reading file", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	if w.folder.isEcho(rel, content) {
		return
	}

	w.logger.Debug("external edit", slog.String("path", rel))

	w.onEdit(ctx, Edit{CloudFileID: rel, Content: string(content), At: modTime(absPath)})
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != dir && shouldIgnore(path) {
			return filepath.SkipDir
		}

		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}

// shouldIgnore skips hidden files, editor swap files and in-progress
// writes.
func shouldIgnore(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}

	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}

	return strings.HasPrefix(base, "~$")
}
