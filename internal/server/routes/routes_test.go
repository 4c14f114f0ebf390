package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chimu-moe/pisstaube/internal/cache"
	"github.com/Chimu-moe/pisstaube/internal/catalog"
	"github.com/Chimu-moe/pisstaube/internal/database"
	"github.com/Chimu-moe/pisstaube/internal/logging"
	"github.com/Chimu-moe/pisstaube/internal/mirror"
	"github.com/Chimu-moe/pisstaube/internal/server"
)

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

type fakeSource struct {
	body []byte
	hit  bool
	err  error
}

func (f *fakeSource) Open(_ context.Context, setID int) (*cache.ReadResult, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &cache.ReadResult{
		Entry:  cache.Entry{SetID: setID, SizeBytes: int64(len(f.body))},
		Reader: nopSeekCloser{bytes.NewReader(f.body)},
	}, f.hit, nil
}

type fakeCache struct {
	freed int
}

func (f *fakeCache) FreeStorage(context.Context) (bool, error) {
	f.freed++
	return true, nil
}

func (f *fakeCache) Reconcile(context.Context) (cache.ReconcileReport, error) {
	return cache.ReconcileReport{RemovedRows: 1, AdoptedFiles: 2, BytesUsed: 30}, nil
}

func (f *fakeCache) Stats() cache.Stats {
	return cache.Stats{BytesUsed: 25, BytesBudget: 100, PercentUsed: 25}
}

type testEnv struct {
	app    *fiber.App
	store  *catalog.Store
	cache  *fakeCache
	source *fakeSource
}

func newTestEnv(t *testing.T, key string) *testEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	db, err := database.Open(ctx, filepath.Join(root, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := catalog.NewStore(ctx, db)
	require.NoError(t, err)

	app, err := server.NewApp(server.AppOptions{Logger: logging.Discard()})
	require.NoError(t, err)

	env := &testEnv{
		app:    app,
		store:  store,
		cache:  &fakeCache{},
		source: &fakeSource{body: []byte("osz-bytes"), hit: true},
	}
	RegisterDownloadRoutes(app, env.source, logging.Discard())
	RegisterAdminRoutes(app, AdminOptions{
		Key:     key,
		Catalog: catalog.NewDumper(store, logging.Discard()),
		Cache:   env.cache,
		TempDir: root,
		Logger:  logging.Discard(),
	})
	RegisterMetricsRoutes(app)
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestDownloadServesArchive(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/d/42", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "osz-bytes", string(body))
	assert.Equal(t, "true", resp.Header.Get("X-Pisstaube-Cache-Hit"))
	assert.Equal(t, archiveContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "42.osz")
}

func TestDownloadErrors(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/d/abc", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.source.err = mirror.ErrUpstreamDisabled
	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/d/1", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not_cached")

	env.source.err = cache.ErrBudgetExceeded
	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/d/1", nil))
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	disabled := newTestEnv(t, "")
	resp, _ := disabled.do(t, httptest.NewRequest(http.MethodGet, "/api/pisstaube/dump?key=", nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env := newTestEnv(t, "secret")
	resp, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/pisstaube/dump?key=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, httptest.NewRequest(http.MethodPost, "/api/pisstaube/cleaner/free", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, env.cache.freed)
}

func TestDumpEmptyCatalog(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/pisstaube/dump?key=secret", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte{0, 0, 0, 0}, body)
	assert.Equal(t, "0", resp.Header.Get("X-Pisstaube-Records"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), catalog.DumpFileName)
}

func TestPutRestoresDumpRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := newTestEnv(t, "secret")
	require.NoError(t, source.store.Put(ctx, &catalog.BeatmapSet{
		SetID: 1, Title: "One",
		ChildrenBeatmaps: []catalog.ChildrenBeatmap{{BeatmapID: 10, DiffName: "Hard", BPM: 200}},
	}))
	require.NoError(t, source.store.Put(ctx, &catalog.BeatmapSet{SetID: 2, Title: "Two"}))

	_, dump := source.do(t, httptest.NewRequest(http.MethodGet, "/api/pisstaube/dump?key=secret", nil))

	target := newTestEnv(t, "secret")
	require.NoError(t, target.store.Put(ctx, &catalog.BeatmapSet{SetID: 99, Title: "Stale"}))

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile(catalog.DumpFileName, catalog.DumpFileName)
	require.NoError(t, err)
	_, err = part.Write(dump)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/pisstaube/put?key=secret&drop=true", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, body := target.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var payload struct {
		Imported int `json:"imported"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 2, payload.Imported)

	_, err = target.store.Get(ctx, 99)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	got, err := target.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "One", got.Title)
	require.Len(t, got.ChildrenBeatmaps, 1)
	assert.Equal(t, float32(200), got.ChildrenBeatmaps[0].BPM)
}

func TestPutRawBodyMalformed(t *testing.T) {
	env := newTestEnv(t, "secret")

	req := httptest.NewRequest(http.MethodPut, "/api/pisstaube/put?key=secret", bytes.NewReader([]byte{1, 2}))
	resp, body := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "malformed_dump")

	req = httptest.NewRequest(http.MethodPut, "/api/pisstaube/put?key=secret&drop=maybe", nil)
	resp, _ = env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCleanerRoutes(t *testing.T) {
	env := newTestEnv(t, "secret")

	resp, body := env.do(t, httptest.NewRequest(http.MethodPost, "/api/pisstaube/cleaner/free?key=secret", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok":true`)
	assert.Equal(t, 1, env.cache.freed)

	resp, body = env.do(t, httptest.NewRequest(http.MethodPost, "/api/pisstaube/cleaner/reconcile?key=secret", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"adopted_files":2`)

	resp, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/pisstaube/cleaner/stats", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bytes_used":25,"bytes_budget":100,"percent_used":25}`, string(body))
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, httptest.NewRequest(http.MethodGet, "/-/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pisstaube_cache_bytes_used")
}
