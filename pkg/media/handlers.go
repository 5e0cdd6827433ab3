package media

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"

	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
	"github.com/creatorhub/creatorhub/pkg/storage"
)

const (
	multipartMemory = 32 << 20
	// multipartOverhead leaves room for form fields and boundaries around the file
	multipartOverhead = 1 << 20
)

// Handlers provides HTTP handlers for the content libraries
type Handlers struct {
	service *Service
}

// NewHandlers creates media handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers media routes. The router must already run
// authentication and rbac.Middleware.LoadActor; authorization happens per
// item in the service.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/media", h.ListLibraries).Methods(http.MethodGet)
	router.HandleFunc("/media/{library:[a-z_]+}", h.List).Methods(http.MethodGet)
	router.HandleFunc("/media/{library:[a-z_]+}", h.Upload).Methods(http.MethodPost)
	router.HandleFunc("/media/{library:[a-z_]+}/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/media/{library:[a-z_]+}/{id:[0-9]+}", h.Rename).Methods(http.MethodPatch)
	router.HandleFunc("/media/{library:[a-z_]+}/{id:[0-9]+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/media/{library:[a-z_]+}/{id:[0-9]+}/url", h.URL).Methods(http.MethodGet)
	router.HandleFunc("/media/{library:[a-z_]+}/{id:[0-9]+}/content", h.Content).Methods(http.MethodGet)
}

type libraryView struct {
	Name         string   `json:"name"`
	AllowedTypes []string `json:"allowed_types"`
	MaxSize      int64    `json:"max_size"`
}

// ListLibraries describes the libraries and their upload rules
func (h *Handlers) ListLibraries(w http.ResponseWriter, r *http.Request) {
	libs := h.service.Libraries()
	out := make([]libraryView, 0, len(libs))
	for _, l := range libs {
		out = append(out, libraryView{Name: l.Name, AllowedTypes: l.AllowedTypes, MaxSize: l.MaxSize})
	}
	_ = httputil.WriteSuccess(w, out)
}

// requestActor returns the loaded actor or answers 401
func requestActor(w http.ResponseWriter, r *http.Request) (*rbac.User, bool) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
	}
	return actor, ok
}

// List lists the library items visible to the caller
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", defaultPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	items, err := h.service.List(r.Context(), actor, mux.Vars(r)["library"], Page{Limit: limit, Offset: offset})
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, items)
}

// Upload accepts a multipart form with a "file" part and optional "title"
// and "visibility" fields
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	library := mux.Vars(r)["library"]
	lib, err := h.service.Library(library)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, lib.MaxSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteDomainError(w, r, ErrFileTooLarge)
			return
		}
		httputil.WriteBadRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(io.LimitReader(file, lib.MaxSize+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read file")
		return
	}

	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(header.Filename, path.Ext(header.Filename))
	}

	item, err := h.service.Upload(r.Context(), actor, library, UploadInput{
		Title:      title,
		Visibility: storage.Visibility(r.FormValue("visibility")),
		Contents:   contents,
	})
	if err != nil {
		if !IsClientError(err) {
			observability.FromContext(r.Context()).WithError(err).WithField("library", library).Warn("media upload failed")
		}
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, item)
}

// Get returns one item
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), actor, mux.Vars(r)["library"], id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, item)
}

type renameRequest struct {
	Title string `json:"title" validate:"required,max=255"`
}

// Rename changes an item's title
func (h *Handlers) Rename(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req renameRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	item, err := h.service.Rename(r.Context(), actor, mux.Vars(r)["library"], id, req.Title)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, item)
}

// Delete removes an item and its file
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, mux.Vars(r)["library"], id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// URL returns {"url": ...}, signed for private files where the driver allows
func (h *Handlers) URL(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	u, err := h.service.URL(r.Context(), actor, mux.Vars(r)["library"], id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]string{"url": u})
}

// Content streams the file itself
func (h *Handlers) Content(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	item, data, err := h.service.Content(r.Context(), actor, mux.Vars(r)["library"], id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", item.MimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, path.Base(item.Path), item.UpdatedAt, bytes.NewReader(data))
}
