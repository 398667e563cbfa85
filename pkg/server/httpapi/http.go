// Package httpapi exposes the clip browser over HTTP: JSON listing
// endpoints, static assets, range-capable video streaming, and
// on-demand thumbnails backed by the content store.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jacktea/clipview/pkg/catalog"
	"github.com/jacktea/clipview/pkg/server/middleware"
	"github.com/jacktea/clipview/pkg/thumbstore"
	"github.com/jacktea/clipview/pkg/xerrors"
)

// Server wires the catalog and thumbnail store into an HTTP surface.
type Server struct {
	DataDir   string
	StaticDir string
	Catalog   *catalog.Catalog
	Store     *thumbstore.Store
	Log       *log.Logger
	Opts      Options
}

// Options configure auth, rate limiting, and request logging.
type Options struct {
	APIKey     string
	RateLimit  middleware.RateLimitOptions
	LogRequest bool
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	return srv.ListenAndServe()
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/api/list", s.handleList)
	mux.HandleFunc("/api/data", s.handleEvents)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/data/", s.handleVideo)
	mux.HandleFunc("/static/", s.handleStatic)
	mux.HandleFunc("/thumbnail/", s.handleThumbnail)
	mux.HandleFunc("/", s.handleIndex)
	return s.applyMiddleware(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, s.StaticDir, "index.html")
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.StaticDir, strings.TrimPrefix(r.URL.Path, "/static/"))
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, s.DataDir, strings.TrimPrefix(r.URL.Path, "/data/"))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dates, err := s.Catalog.Dates()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, dates)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "missing date", http.StatusBadRequest)
		return
	}
	events, err := s.Catalog.Events(date)
	if err != nil {
		httpError(w, err)
		return
	}
	if events == nil {
		events = []catalog.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.Store.Stats()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, struct {
		Store thumbstore.Stats `json:"store"`
	}{Store: stats})
}

// handleThumbnail resolves the thumbnail for a clip, materializing it on
// first demand. A Lookup miss is advisory (it can race a partition), so
// the authoritative GetOrCreate backs it.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/thumbnail/")
	if !strings.HasSuffix(name, ".mp4") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	source, ok := secureJoin(s.DataDir, name)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	rel, found := s.Store.Lookup(name)
	if !found {
		rel, err = s.Store.GetOrCreate(r.Context(), name, source)
		if err != nil {
			s.logf("thumbnail %s: %v", name, err)
			httpError(w, err)
			return
		}
	}
	s.serveFile(w, r, s.Store.Root(), rel)
}

// serveFile streams one file beneath root, rejecting traversals.
// http.ServeContent supplies range handling and content type.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, root, name string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	full, ok := secureJoin(root, name)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	f, err := os.Open(full)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	switch filepath.Ext(full) {
	case ".css", ".js":
		w.Header().Set("Cache-Control", "max-age=0, must-revalidate, no-cache, no-store")
	default:
		w.Header().Set("Cache-Control", "immutable, max-age=3600, private")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// secureJoin joins name beneath root and reports whether the result
// stays within it. Symlinks are resolved before the containment check,
// so a link under root cannot reach outside it.
func secureJoin(root, name string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	full := filepath.Join(absRoot, filepath.FromSlash(name))
	if !contained(absRoot, full) {
		return "", false
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		// Nothing exists at the path yet; the caller's open or stat
		// rejects it.
		if os.IsNotExist(err) {
			return full, true
		}
		return "", false
	}
	if !contained(resolvedRoot, resolved) {
		return "", false
	}
	return resolved, true
}

func contained(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		status = http.StatusNotFound
	case xerrors.KindInvalid:
		status = http.StatusBadRequest
	case xerrors.KindAlreadyExists:
		status = http.StatusConflict
	case xerrors.KindExtraction:
		status = http.StatusBadGateway
	case xerrors.KindBusy:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	var chain []middleware.HTTPMiddleware
	if s.Opts.LogRequest {
		chain = append(chain, middleware.Logging(s.logf))
	}
	chain = append(chain,
		middleware.APIKeyAuth(s.Opts.APIKey),
		middleware.RateLimit(s.Opts.RateLimit),
	)
	return middleware.Wrap(handler, chain...)
}

func (s *Server) logf(format string, args ...any) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
