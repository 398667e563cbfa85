package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jacktea/clipview/pkg/catalog"
	"github.com/jacktea/clipview/pkg/thumbstore"
	"github.com/jacktea/clipview/pkg/xerrors"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *stubExtractor) Extract(ctx context.Context, source, target string) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return xerrors.E(xerrors.KindExtraction, "stubExtractor", source)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".extract-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write([]byte("jpeg:" + source)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	tmp.Close()
	return os.Rename(tmp.Name(), target)
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestServer(t *testing.T, ext thumbstore.Extractor) (*Server, string) {
	t.Helper()
	dataDir := t.TempDir()
	clipDir := filepath.Join(dataDir, "2026-08-29", "face-detection")
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(clipDir, "08-15-30-front.mp4"), []byte("video bytes 0123456789"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>clipview</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	cat, err := catalog.New(dataDir, catalog.Options{})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	store, err := thumbstore.New(thumbstore.Config{
		Root:      t.TempDir(),
		Extractor: ext,
		Logf:      t.Logf,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return &Server{
		DataDir:   dataDir,
		StaticDir: staticDir,
		Catalog:   cat,
		Store:     store,
	}, dataDir
}

func TestListAndEvents(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	handler := srv.router()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/list", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var dates []string
	if err := json.NewDecoder(rr.Body).Decode(&dates); err != nil {
		t.Fatalf("decode dates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-08-29" {
		t.Fatalf("dates = %v", dates)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/data?date=2026-08-29", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rr.Code)
	}
	var events []catalog.Event
	if err := json.NewDecoder(rr.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Timestamp != "2026-08-29T08:15:30Z" {
		t.Fatalf("events = %v", events)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing date: expected 400, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/data?date=1999-01-01", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown date: expected 404, got %d", rr.Code)
	}
}

func TestThumbnailOnDemand(t *testing.T) {
	ext := &stubExtractor{}
	srv, _ := newTestServer(t, ext)
	handler := srv.router()
	target := "/thumbnail/2026-08-29/face-detection/08-15-30-front.mp4"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body, _ := io.ReadAll(rr.Body)
	if len(body) == 0 {
		t.Fatalf("empty thumbnail body")
	}
	if ext.callCount() != 1 {
		t.Fatalf("extractor invoked %d times, want 1", ext.callCount())
	}

	// Second request is served from the store.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ext.callCount() != 1 {
		t.Fatalf("extractor re-invoked for cached thumbnail")
	}
}

func TestThumbnailRejections(t *testing.T) {
	ext := &stubExtractor{}
	srv, _ := newTestServer(t, ext)

	rr := httptest.NewRecorder()
	srv.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/thumbnail/notes.txt", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-mp4: expected 400, got %d", rr.Code)
	}

	// The mux cleans dotted paths, so exercise the handler directly.
	req := httptest.NewRequest(http.MethodGet, "/thumbnail/x.mp4", nil)
	req.URL.Path = "/thumbnail/../../etc/passwd.mp4"
	rr = httptest.NewRecorder()
	srv.handleThumbnail(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("traversal: expected 403, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/thumbnail/2026-08-29/face-detection/missing.mp4", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing source: expected 404, got %d", rr.Code)
	}
	if ext.callCount() != 0 {
		t.Fatalf("extractor invoked for rejected request")
	}
}

func TestThumbnailExtractionFailure(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{fail: true})
	rr := httptest.NewRecorder()
	srv.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/thumbnail/2026-08-29/face-detection/08-15-30-front.mp4", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestVideoRangeRequest(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	handler := srv.router()

	req := httptest.NewRequest(http.MethodGet, "/data/2026-08-29/face-detection/08-15-30-front.mp4", nil)
	req.Header.Set("Range", "bytes=6-10")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if string(body) != "bytes" {
		t.Fatalf("range body = %q", body)
	}
}

func TestIndexAndStatic(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	handler := srv.router()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if string(body) != "<html>clipview</html>" {
		t.Fatalf("index body = %q", body)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/missing.css", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing asset: expected 404, got %d", rr.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	handler := srv.router()

	// Materialize one thumbnail so the stats are non-trivial.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/thumbnail/2026-08-29/face-detection/08-15-30-front.mp4", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("thumbnail: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rr.Code)
	}
	var payload struct {
		Store thumbstore.Stats `json:"store"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if payload.Store.Entries != 1 {
		t.Fatalf("stats entries = %d, want 1", payload.Store.Entries)
	}
}

func TestAPIKeyProtection(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	srv.Opts.APIKey = "secret"
	handler := srv.router()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/list", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/list", nil)
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestSecureJoin(t *testing.T) {
	root := t.TempDir()
	if _, ok := secureJoin(root, "a/b.mp4"); !ok {
		t.Fatalf("plain join rejected")
	}
	if _, ok := secureJoin(root, "../escape.mp4"); ok {
		t.Fatalf("traversal accepted")
	}
	want, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if full, ok := secureJoin(root, ""); !ok || full != want {
		t.Fatalf("empty join = (%s,%v), want %s", full, ok, want)
	}
}

// A symlink inside the data dir must not grant access to files outside
// it, even though the joined path looks contained.
func TestSecureJoinSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.mp4")
	if err := os.WriteFile(secret, []byte("hidden"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	root := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "leak")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if full, ok := secureJoin(root, "leak/secret.mp4"); ok {
		t.Fatalf("symlink escape accepted: %s", full)
	}

	// A link that stays inside root keeps working.
	inner := filepath.Join(root, "clips")
	if err := os.Mkdir(inner, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(inner, filepath.Join(root, "alias")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inner, "a.mp4"), []byte("clip"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	if _, ok := secureJoin(root, "alias/a.mp4"); !ok {
		t.Fatalf("contained symlink rejected")
	}
}
