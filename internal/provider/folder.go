package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"golang.org/x/text/unicode/norm"
)

const (
	folderDirPerm  = fs.FileMode(0o755)
	folderFilePerm = fs.FileMode(0o644)

	// folderTempPrefix marks in-progress writes. The watcher ignores them.
	folderTempPrefix = ".docsync-write-"
)

// Folder is a Provider backed by a local directory. A link's cloud file
// id is the file's slash-separated path relative to the directory. Any
// program that edits files in the directory acts as the external editor.
type Folder struct {
	dir    string
	logger *slog.Logger

	// mu serializes writes and guards hashes. Reads take a shared lock so
	// they never observe a partial write.
	mu sync.RWMutex

	// hashes holds the sha256 of the last content this process wrote or
	// read per path, so the watcher can drop echoes of its own pushes.
	hashes map[string]string
}

// NewFolder creates a Folder rooted at dir, creating it if needed. dir
// must be absolute.
func NewFolder(dir string, logger *slog.Logger) (*Folder, error) {
	if dir == "" {
		return nil, fmt.Errorf("folder directory must not be empty: %w", derrors.ErrInvalidInput)
	}

	if err := os.MkdirAll(dir, folderDirPerm); err != nil {
		return nil, fmt.Errorf("creating folder %s: %w", dir, err)
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving folder %s: %w", dir, err)
	}

	return &Folder{
		dir:    realDir,
		logger: logger.With(slog.String("component", "folder_provider")),
		hashes: make(map[string]string),
	}, nil
}

// Dir returns the root directory.
func (f *Folder) Dir() string {
	return f.dir
}

// Push writes content to the link's file, replacing it atomically.
func (f *Folder) Push(ctx context.Context, link models.DocumentSyncState, content string) (*PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := normalizePath(link.CloudFileID)

	absPath, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(absPath), folderDirPerm); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), folderTempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", rel, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return nil, fmt.Errorf("writing %s: %w", rel, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("closing %s: %w", rel, err)
	}

	if err := os.Chmod(tmpName, folderFilePerm); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("setting mode of %s: %w", rel, err)
	}

	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("replacing %s: %w", rel, err)
	}

	f.hashes[rel] = contentHash([]byte(content))

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	f.logger.Debug("pushed", slog.String("path", rel), slog.Int("bytes", len(content)))

	return &PushResult{CloudFileID: rel, RemoteUpdatedAt: info.ModTime()}, nil
}

// Pull reads the link's file. A missing file yields nil, nil.
func (f *Folder) Pull(ctx context.Context, link models.DocumentSyncState) (*PullResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := normalizePath(link.CloudFileID)

	absPath, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Folder.resolve
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	return &PullResult{Content: string(data), RemoteUpdatedAt: info.ModTime()}, nil
}

// isEcho reports whether content at rel is what this process last wrote
// or observed there, and records it as observed otherwise.
func (f *Folder) isEcho(rel string, content []byte) bool {
	h := contentHash(content)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hashes[rel] == h {
		return true
	}

	f.hashes[rel] = h

	return false
}

func contentHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// resolve converts a relative path to an absolute path inside the folder,
// rejecting traversal through ".." segments or symlinks.
func (f *Folder) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path: %w", derrors.ErrInvalidInput)
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte %q: %w", relPath, derrors.ErrInvalidInput)
	}

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains .. %q: %w", relPath, derrors.ErrInvalidInput)
		}
	}

	absPath := filepath.Join(f.dir, filepath.FromSlash(relPath))
	if !strings.HasPrefix(absPath, f.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q resolves outside folder: %w", relPath, derrors.ErrInvalidInput)
	}

	// Walk up to the deepest existing ancestor and make sure symlinks do
	// not lead out of the folder.
	existing := absPath
	for {
		realPath, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if realPath != f.dir && !strings.HasPrefix(realPath, f.dir+string(os.PathSeparator)) {
				return "", fmt.Errorf("path %q resolves to %q outside folder: %w", relPath, realPath, derrors.ErrInvalidInput)
			}

			return absPath, nil
		}

		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return absPath, nil
		}

		existing = parent
	}
}

// normalizePath converts separators to forward slashes, collapses repeated
// slashes, trims leading and trailing slashes, and applies Unicode NFC so
// ids from webhooks and the watcher compare equal.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")

	var b strings.Builder

	prevSlash := false

	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	return norm.NFC.String(strings.Trim(b.String(), "/"))
}

// modTime is used by the watcher to timestamp external edits.
func modTime(absPath string) time.Time {
	info, err := os.Stat(absPath)
	if err != nil {
		return time.Now()
	}

	return info.ModTime()
}
