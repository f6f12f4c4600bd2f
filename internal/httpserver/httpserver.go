// Package httpserver implements the static document responder of spec §4.6:
// GET/HEAD only, percent-decoded and parent-dir-popped path resolution
// confined to the document root, and an I/O-error-kind to HTTP-status
// mapping. Routing itself follows the teacher's internal/api/server.go
// (gorilla/mux, one router per concern); path resolution and error mapping
// are ported from original_source/src/file.rs's decode_path and io_error.
package httpserver

import (
	"errors"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ocx/devserver/internal/filecache"
	"github.com/ocx/devserver/internal/ioworker"
	"github.com/ocx/devserver/internal/logging"
	"github.com/ocx/devserver/internal/metrics"
)

// Server is the document-root static responder.
type Server struct {
	addr            string
	documentRoot    string
	defaultDocument string
	cache           *filecache.FileCache
	metrics         *metrics.Metrics
	logger          *log.Logger
}

// New constructs a Server. documentRoot is resolved relative to the process
// working directory if not absolute, matching the source's root.is_relative
// handling.
func New(addr, documentRoot, defaultDocument string, cache *filecache.FileCache, m *metrics.Metrics) *Server {
	return &Server{
		addr:            addr,
		documentRoot:    documentRoot,
		defaultDocument: defaultDocument,
		cache:           cache,
		metrics:         m,
		logger:          logging.New("http"),
	}
}

// Handler builds the router. Exposed separately from ListenAndServe so tests
// can exercise it with httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.SkipClean(true) // path resolution (including ".." handling) is ours, not the router's
	r.PathPrefix("/").HandlerFunc(s.serve)
	return r
}

// ListenAndServe blocks serving the document root until the listener fails.
// Nothing closes the listener from outside, so otherwise it runs until the
// process exits.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("serving %s on http://%s", s.documentRoot, s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

func (s *Server) serve(w http.ResponseWriter, req *http.Request) {
	if (req.Method != http.MethodGet && req.Method != http.MethodHead) || req.URL.IsAbs() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	fsPath, err := s.resolvePath(req.URL.Path)
	if err != nil {
		var ioErr *ioworker.Error
		if errors.As(err, &ioErr) {
			s.writeError(w, req, fsPath, err)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	file, err := s.cache.Fetch(req.Context(), fsPath)
	if err != nil {
		s.writeError(w, req, fsPath, err)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(file.Bytes)))
	w.Header().Set("Last-Modified", file.ModTime.UTC().Format(http.TimeFormat))
	if req.Method == http.MethodGet {
		_, _ = w.Write(file.Bytes)
	}
	s.logger.Printf("%20s - 200 - %s", req.RemoteAddr, fsPath)
}

// resolvePath percent-decodes the request path, then resolves it against
// the document root, popping one path component for every ".." component
// instead of rejecting the request outright — matching decode_path's fold
// over path Components, where ParentDir pops the accumulator rather than
// erroring. The result can never escape documentRoot: a leading ".." with
// nothing to pop is simply dropped.
func (s *Server) resolvePath(reqPath string) (string, error) {
	decoded, err := url.PathUnescape(reqPath)
	if err != nil {
		return "", err
	}

	if decoded == "/" || decoded == "" {
		if s.defaultDocument == "" {
			// No default document configured: the document root itself is
			// never a servable file, so treat "/" as a plain miss instead
			// of remapping it to a directory read (which would surface as
			// a 500, not the natural 404).
			return "", &ioworker.Error{Kind: ioworker.NotFound, Err: fs.ErrNotExist}
		}
		decoded = "/" + s.defaultDocument
	}

	var out []string
	for _, comp := range strings.Split(decoded, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, comp)
		}
	}

	root := s.documentRoot
	return path.Join(root, path.Join(out...)), nil
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, fsPath string, err error) {
	var ioErr *ioworker.Error
	kind := ioworker.Other
	if errors.As(err, &ioErr) {
		kind = ioErr.Kind
	}

	switch kind {
	case ioworker.NotFound:
		s.logger.Printf("%20s - 404 - %s", req.RemoteAddr, fsPath)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<h1>404 Not Found</h1><p>File \"" + req.URL.Path + "\" not found</p>"))
	case ioworker.PermissionDenied:
		s.logger.Printf("%20s - 403 - %s", req.RemoteAddr, fsPath)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<h1>403 Forbidden</h1><p>File \"" + req.URL.Path + "\" forbidden</p>"))
	default:
		s.logger.Printf("%20s - 500 - %s: %v", req.RemoteAddr, fsPath, err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("<h1>500 Internal Server Error</h1>"))
	}
}
