package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/logging"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(models.ProviderOneDrive)
	assert.ErrorIs(t, err, derrors.ErrProviderUnavailable)

	mock := NewMockProvider(gomock.NewController(t))
	require.NoError(t, r.Register(models.ProviderOneDrive, mock))
	require.NoError(t, r.Register(models.ProviderFolder, mock))

	got, err := r.Get(models.ProviderOneDrive)
	require.NoError(t, err)
	assert.Same(t, mock, got)
	assert.Equal(t, []models.CloudProvider{models.ProviderFolder, models.ProviderOneDrive}, r.Kinds())

	assert.ErrorIs(t, r.Register("dropbox", mock), derrors.ErrInvalidInput)
}

// --- Folder ---

func tempFolder(t *testing.T) *Folder {
	t.Helper()
	f, err := NewFolder(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	return f
}

func link(fileID string) models.DocumentSyncState {
	return models.DocumentSyncState{DocumentID: "d1", TenantID: "acme", CloudProvider: models.ProviderFolder, CloudFileID: fileID}
}

func TestFolder_PushThenPull(t *testing.T) {
	f := tempFolder(t)
	ctx := context.Background()

	res, err := f.Push(ctx, link("proposals//p1/cover.json"), `{"title":"Draft"}`)
	require.NoError(t, err)
	assert.Equal(t, "proposals/p1/cover.json", res.CloudFileID)
	assert.False(t, res.RemoteUpdatedAt.IsZero())

	data, err := os.ReadFile(filepath.Join(f.Dir(), "proposals", "p1", "cover.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Draft"}`, string(data))

	pulled, err := f.Pull(ctx, link("proposals/p1/cover.json"))
	require.NoError(t, err)
	require.NotNil(t, pulled)
	assert.Equal(t, `{"title":"Draft"}`, pulled.Content)

	entries, err := os.ReadDir(filepath.Join(f.Dir(), "proposals", "p1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestFolder_PullMissingFile(t *testing.T) {
	f := tempFolder(t)
	res, err := f.Pull(context.Background(), link("missing.json"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFolder_RejectsTraversal(t *testing.T) {
	f := tempFolder(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(f.Dir(), "escape")))

	for _, id := range []string{"", "../x.json", "a/../../x.json", "escape/x.json", "a\x00b"} {
		t.Run(id, func(t *testing.T) {
			_, err := f.Push(context.Background(), link(id), "x")
			assert.ErrorIs(t, err, derrors.ErrInvalidInput)
		})
	}

	_, err := os.Stat(filepath.Join(outside, "x.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFolder_CancelledContext(t *testing.T) {
	f := tempFolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Push(ctx, link("a.json"), "x")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.Pull(ctx, link("a.json"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFolder_IsEcho(t *testing.T) {
	f := tempFolder(t)
	_, err := f.Push(context.Background(), link("a.json"), "one")
	require.NoError(t, err)

	assert.True(t, f.isEcho("a.json", []byte("one")))
	assert.False(t, f.isEcho("a.json", []byte("two")))
	assert.True(t, f.isEcho("a.json", []byte("two")), "observed content is remembered")
	assert.False(t, f.isEcho("b.json", []byte("one")))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a/b.json", "a/b.json"},
		{"/a//b.json/", "a/b.json"},
		{`a\b.json`, "a/b.json"},
		{"café.json", "café.json"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestShouldIgnore(t *testing.T) {
	tests := []struct {
		path   string
		ignore bool
	}{
		{"proposal.json", false},
		{"sub/dir/file.docx", false},
		{".hidden", true},
		{".docsync-write-123", true},
		{"file.swp", true},
		{"file~", true},
		{"~$budget.xlsx", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignore, shouldIgnore(tt.path))
		})
	}
}

// --- Watcher ---

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}

type editRecorder struct {
	mu    sync.Mutex
	edits []Edit
}

func (r *editRecorder) record(_ context.Context, e Edit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, e)
}

func (r *editRecorder) snapshot() []Edit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edit(nil), r.edits...)
}

func watchedFolder(t *testing.T) (*Folder, *editRecorder) {
	t.Helper()
	f := tempFolder(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.Dir(), "existing"), 0o755))

	rec := &editRecorder{}
	w := NewWatcher(f, rec.record, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- w.Watch(ctx)
	}()

	// Give fsnotify a moment to set up watches.
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})

	return f, rec
}

func TestWatch_ReportsExternalWrite(t *testing.T) {
	f, rec := watchedFolder(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.Dir(), "existing", "doc.json"), []byte(`{"a":1}`), 0o644))

	waitFor(t, 3*time.Second, func() bool { return len(rec.snapshot()) == 1 })

	e := rec.snapshot()[0]
	assert.Equal(t, "existing/doc.json", e.CloudFileID)
	assert.Equal(t, `{"a":1}`, e.Content)
	assert.False(t, e.At.IsZero())
}

func TestWatch_IgnoresOwnPush(t *testing.T) {
	f, rec := watchedFolder(t)

	_, err := f.Push(context.Background(), link("pushed.json"), "from engine")
	require.NoError(t, err)

	// An external write afterwards is still reported.
	require.NoError(t, os.WriteFile(filepath.Join(f.Dir(), "other.json"), []byte("external"), 0o644))

	waitFor(t, 3*time.Second, func() bool { return len(rec.snapshot()) >= 1 })
	time.Sleep(watcherTick + watcherQuiet)

	edits := rec.snapshot()
	require.Len(t, edits, 1)
	assert.Equal(t, "other.json", edits[0].CloudFileID)
}

func TestWatch_NewDirectoryWatched(t *testing.T) {
	f, rec := watchedFolder(t)

	dir := filepath.Join(f.Dir(), "new")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte("x"), 0o644))

	waitFor(t, 3*time.Second, func() bool {
		for _, e := range rec.snapshot() {
			if e.CloudFileID == "new/doc.json" {
				return true
			}
		}
		return false
	})
}
