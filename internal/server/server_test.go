package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/docsync/internal/config"
	"github.com/alexjbarnes/docsync/internal/engine"
	"github.com/alexjbarnes/docsync/internal/logging"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/provider"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/alexjbarnes/docsync/internal/tracker"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenant = "acme"
	testAPIKey = "acme-key-0123456789"
)

type testEnv struct {
	svc    *engine.Service
	folder *provider.Folder
	mux    *http.ServeMux
}

func testSetup(t *testing.T) *testEnv {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	folder, err := provider.NewFolder(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(models.ProviderFolder, folder))

	svc := engine.New(st, reg, engine.Config{Debounce: time.Hour}, logging.Discard())
	t.Cleanup(svc.Close)

	_, err = svc.CreateDocument(models.Document{
		ID:       "d1",
		TenantID: tenant,
		DocType:  "cover_letter",
		Content:  json.RawMessage(`{"title":"v0"}`),
	})
	require.NoError(t, err)

	_, err = svc.Link(tracker.LinkRequest{
		TenantID:    tenant,
		DocumentID:  "d1",
		Provider:    models.ProviderFolder,
		CloudFileID: "letters/d1.json",
		Metadata:    models.CloudMetadata{Folder: &models.FolderMetadata{Path: "letters/d1.json"}},
	})
	require.NoError(t, err)

	mux := NewMux(MuxConfig{
		Service: svc,
		APIKeys: []config.APIKeyEntry{
			{TenantID: tenant, Key: testAPIKey},
			{TenantID: "globex", Key: "globex-key-0123456789"},
		},
		MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(RequestTenantID(r.Context())))
		}),
		Logger: logging.Discard(),
	})

	return &testEnv{svc: svc, folder: folder, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, target, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

// --- Middleware ---

func TestMiddleware_NoToken(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "POST", "/mcp", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestMiddleware_InvalidKey(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "POST", "/mcp", "not-a-real-key-000000", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestMiddleware_BindsTenant(t *testing.T) {
	env := testSetup(t)

	rec := env.do(t, "POST", "/mcp", testAPIKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenant, rec.Body.String())

	rec = env.do(t, "POST", "/mcp", "globex-key-0123456789", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "globex", rec.Body.String())
}

func TestHealthz_NoAuth(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Webhooks ---

func TestWebhook_FolderChangeRecordsCloudEdit(t *testing.T) {
	env := testSetup(t)

	abs := filepath.Join(env.folder.Dir(), "letters", "d1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(`{"title":"edited"}`), 0o644))

	modified := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := env.do(t, "POST", "/webhooks/local_folder", testAPIKey,
		`{"path":"letters/d1.json","modifiedTime":"`+modified.Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Received)
	assert.Equal(t, 1, resp.Accepted)

	st, err := env.svc.Tracker().Get(tenant, "d1")
	require.NoError(t, err)
	assert.Equal(t, modified, st.LastCloudEditAt)

	shadow, err := env.svc.Tracker().CloudShadow(tenant, "d1")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"edited"}`, shadow.Content)

	pending, err := env.svc.Queue().Pending(context.Background(), tenant, "d1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActionPull, pending[0].Action)
}

func TestWebhook_UnlinkedFileIgnored(t *testing.T) {
	env := testSetup(t)

	rec := env.do(t, "POST", "/webhooks/local_folder", testAPIKey, `{"path":"other.json"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Received)
	assert.Equal(t, 0, resp.Accepted)
}

func TestWebhook_OtherTenantCannotTouchLink(t *testing.T) {
	env := testSetup(t)

	rec := env.do(t, "POST", "/webhooks/local_folder", "globex-key-0123456789", `{"path":"letters/d1.json"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Accepted)
}

func TestWebhook_UnknownProvider(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "POST", "/webhooks/dropbox", testAPIKey, `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_InvalidJSON(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "POST", "/webhooks/onedrive", testAPIKey, `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_GraphValidationWithoutAuth(t *testing.T) {
	env := testSetup(t)
	rec := env.do(t, "POST", "/webhooks/onedrive?validationToken=abc%20123", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc 123", rec.Body.String())
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name string
		kind models.CloudProvider
		body string
		want []fileChange
	}{
		{
			name: "graph resource data",
			kind: models.ProviderOneDrive,
			body: `{"value":[{"resourceData":{"id":"A1"}},{"resource":"drives/d/items/B2"}]}`,
			want: []fileChange{{FileID: "A1"}, {FileID: "B2"}},
		},
		{
			name: "graph empty",
			kind: models.ProviderSharePoint,
			body: `{"value":[]}`,
		},
		{
			name: "drive with time",
			kind: models.ProviderGoogleDrive,
			body: `{"fileId":"g1","modifiedTime":"2025-03-01T09:00:00.000Z"}`,
			want: []fileChange{{FileID: "g1", At: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}},
		},
		{
			name: "drive bad time",
			kind: models.ProviderGoogleDrive,
			body: `{"fileId":"g1","modifiedTime":"yesterday"}`,
			want: []fileChange{{FileID: "g1"}},
		},
		{
			name: "folder missing path",
			kind: models.ProviderFolder,
			body: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNotification(tt.kind, []byte(tt.body)))
		})
	}
}

// --- Status stream ---

func TestStatus_SnapshotThenUpdates(t *testing.T) {
	env := testSetup(t)
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/status", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testAPIKey}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	var snapshot StatusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &snapshot))
	assert.Equal(t, statusSnapshot, snapshot.Type)
	require.Len(t, snapshot.Links, 1)
	assert.Equal(t, "d1", snapshot.Links[0].DocumentID)

	_, err = env.svc.RecordLocalEdit(ctx, engine.LocalEdit{
		TenantID:   tenant,
		DocumentID: "d1",
		Content:    json.RawMessage(`{"title":"v1"}`),
	})
	require.NoError(t, err)

	var update StatusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &update))
	assert.Equal(t, statusUpdate, update.Type)
	require.Len(t, update.Links, 1)
	assert.True(t, update.Links[0].LocalChanged())

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestStatus_RequiresAuth(t *testing.T) {
	env := testSetup(t)
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/status", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
