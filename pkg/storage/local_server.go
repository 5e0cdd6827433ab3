package storage

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/creatorhub/creatorhub/pkg/httputil"
)

// LocalFileServer serves public files of the active local driver. Mount it
// under the configured serve route with the route prefix stripped.
type LocalFileServer struct {
	factory *Factory
}

// NewLocalFileServer creates a file server backed by factory's active driver
func NewLocalFileServer(factory *Factory) *LocalFileServer {
	return &LocalFileServer{factory: factory}
}

// ServeHTTP implements http.Handler
func (s *LocalFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	d, err := s.factory.Make(r.Context(), "", nil)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	local, ok := Base(d).(*LocalDriver)
	if !ok {
		httputil.WriteNotFoundError(w, "file not found")
		return
	}

	f, info, err := local.open(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		if errors.Is(err, ErrInvalidPath) {
			httputil.WriteBadRequest(w, "invalid path")
			return
		}
		httputil.WriteNotFoundError(w, "file not found")
		return
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		httputil.WriteDomainError(w, r, newError(ErrRead, "serve", DriverLocal, r.URL.Path, err))
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
