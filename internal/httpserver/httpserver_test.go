package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/devserver/internal/filecache"
	"github.com/ocx/devserver/internal/invalidation"
	"github.com/ocx/devserver/internal/ioworker"
)

func newTestServer(t *testing.T, root, defaultDoc string) *Server {
	t.Helper()
	pool := ioworker.New(2, nil)
	t.Cleanup(pool.Close)
	bus := invalidation.New(4)
	cache := filecache.New(pool, bus, nil, 8)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = cache.Run(ctx) }()

	return New("ignored", root, defaultDoc, cache, nil)
}

func TestServer_ServesFileContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}

func TestServer_RootServesDefaultDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644))

	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home", rec.Body.String())
}

func TestServer_ParentDirTraversalStaysInsideRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safe.txt"), []byte("safe"), 0o644))

	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/../../../../etc/passwd", nil)
	s.Handler().ServeHTTP(rec, req)

	// popping past the root just runs out of components to pop; the
	// resolved path can never leave documentRoot.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RootWithoutDefaultDocumentReturns404(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644))

	s := newTestServer(t, dir, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MissingFileReturns404(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope.txt", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PostIsRejectedAsBadRequest(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hello.txt", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HeadOmitsBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/hello.txt", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("Content-Length"))
}

func TestServer_PercentDecodesPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a b.txt"), []byte("spaced"), 0o644))

	s := newTestServer(t, dir, "index.html")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/a%20b.txt", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spaced", rec.Body.String())
}
