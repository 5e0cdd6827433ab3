package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
)

// Permission slugs guarding the storage configuration endpoints
const (
	PermissionViewConfig   = "view_storage_config"
	PermissionManageConfig = "manage_storage_config"
)

const probePrefix = ".creatorhub-probe"

// Handlers provides the storage configuration admin API
type Handlers struct {
	settings SettingRepository
	factory  *Factory
	mw       *rbac.Middleware
}

// NewHandlers creates storage handlers
func NewHandlers(settings SettingRepository, factory *Factory, mw *rbac.Middleware) *Handlers {
	return &Handlers{settings: settings, factory: factory, mw: mw}
}

// RegisterRoutes registers the storage routes. The router must already run
// authentication and actor loading.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	view := h.mw.RequirePermission(PermissionViewConfig)
	manage := h.mw.RequirePermission(PermissionManageConfig)

	router.Handle("/storage/drivers", view(http.HandlerFunc(h.ListDrivers))).Methods(http.MethodGet)
	router.Handle("/storage/settings", view(http.HandlerFunc(h.List))).Methods(http.MethodGet)
	router.Handle("/storage/settings", manage(http.HandlerFunc(h.Create))).Methods(http.MethodPost)
	router.Handle("/storage/settings/active", view(http.HandlerFunc(h.GetActive))).Methods(http.MethodGet)
	router.Handle("/storage/settings/{id:[0-9]+}", view(http.HandlerFunc(h.Get))).Methods(http.MethodGet)
	router.Handle("/storage/settings/{id:[0-9]+}", manage(http.HandlerFunc(h.Update))).Methods(http.MethodPatch)
	router.Handle("/storage/settings/{id:[0-9]+}", manage(http.HandlerFunc(h.Delete))).Methods(http.MethodDelete)
	router.Handle("/storage/settings/{id:[0-9]+}/activate", manage(http.HandlerFunc(h.Activate))).Methods(http.MethodPost)
	router.Handle("/storage/settings/{id:[0-9]+}/deactivate", manage(http.HandlerFunc(h.Deactivate))).Methods(http.MethodPost)
	router.Handle("/storage/settings/{id:[0-9]+}/test", manage(http.HandlerFunc(h.Test))).Methods(http.MethodPost)
}

// ListDrivers returns the supported driver names
func (h *Handlers) ListDrivers(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string][]string{"drivers": h.factory.Drivers()})
}

// List returns every setting, secrets redacted
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.List(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	if settings == nil {
		settings = []StorageSetting{}
	}
	_ = httputil.WriteSuccess(w, settings)
}

// Get returns one setting
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	st, err := h.settings.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

// GetActive returns the active setting, 404 when none is active
func (h *Handlers) GetActive(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.GetActive(r.Context())
	if errors.Is(err, ErrNoActiveConfig) {
		httputil.WriteNotFoundError(w, "no storage setting is active")
		return
	}
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

type createSettingRequest struct {
	Driver               string                 `json:"driver" validate:"required,max=32"`
	Key                  string                 `json:"key" validate:"max=512"`
	Secret               string                 `json:"secret" validate:"max=1024"`
	Region               string                 `json:"region" validate:"max=64"`
	Bucket               string                 `json:"bucket" validate:"max=255"`
	Endpoint             string                 `json:"endpoint" validate:"omitempty,url"`
	URL                  string                 `json:"url" validate:"omitempty,url"`
	UsePathStyleEndpoint bool                   `json:"use_path_style_endpoint"`
	RootPath             string                 `json:"root_path" validate:"max=1024"`
	Metadata             map[string]interface{} `json:"metadata"`
	Active               bool                   `json:"active"`
}

// Create stores a new setting, optionally making it the active one
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createSettingRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	st := &StorageSetting{
		Driver:               req.Driver,
		Key:                  req.Key,
		Secret:               req.Secret,
		Region:               req.Region,
		Bucket:               req.Bucket,
		Endpoint:             req.Endpoint,
		URL:                  req.URL,
		UsePathStyleEndpoint: req.UsePathStyleEndpoint,
		RootPath:             req.RootPath,
		Metadata:             req.Metadata,
		Active:               req.Active,
	}
	if err := h.factory.Validate(st.Config()); err != nil {
		writeConfigProblem(w, err)
		return
	}
	if err := h.settings.Create(r.Context(), st); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).
		WithFields(map[string]interface{}{"setting_id": st.ID, "driver": st.Driver, "active": st.Active}).
		Info("storage setting created")
	_ = httputil.WriteCreated(w, st)
}

type updateSettingRequest struct {
	Driver               *string                `json:"driver" validate:"omitempty,max=32"`
	Key                  *string                `json:"key" validate:"omitempty,max=512"`
	Secret               *string                `json:"secret" validate:"omitempty,max=1024"`
	Region               *string                `json:"region" validate:"omitempty,max=64"`
	Bucket               *string                `json:"bucket" validate:"omitempty,max=255"`
	Endpoint             *string                `json:"endpoint" validate:"omitempty,url"`
	URL                  *string                `json:"url" validate:"omitempty,url"`
	UsePathStyleEndpoint *bool                  `json:"use_path_style_endpoint"`
	RootPath             *string                `json:"root_path" validate:"omitempty,max=1024"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// Update changes only the fields present in the request body
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req updateSettingRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	patch := ConfigPatch(req)

	st, err := h.settings.Update(r.Context(), id, &patch, h.factory.Validate)
	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrUnsupportedDriver) {
		writeConfigProblem(w, err)
		return
	}
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

// Activate makes a setting the active one
func (h *Handlers) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.settings.Activate(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithField("setting_id", id).Info("storage setting activated")
	h.respondWithSetting(w, r, id)
}

// Deactivate clears the active flag of a setting
func (h *Handlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.settings.Deactivate(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).WithField("setting_id", id).Warn("storage setting deactivated")
	h.respondWithSetting(w, r, id)
}

func (h *Handlers) respondWithSetting(w http.ResponseWriter, r *http.Request, id int64) {
	st, err := h.settings.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

// Delete removes an inactive setting
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.settings.Delete(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ProbeStep is the outcome of one operation of a connectivity probe
type ProbeStep struct {
	Operation string `json:"operation"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// ProbeResult is returned by the test endpoint
type ProbeResult struct {
	OK         bool        `json:"ok"`
	Driver     string      `json:"driver"`
	Steps      []ProbeStep `json:"steps"`
	DurationMS int64       `json:"duration_ms"`
}

// Test runs a put/exists/get/delete round trip against a setting, active or not
func (h *Handlers) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	st, err := h.settings.Get(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, err)
		return
	}

	driver, err := h.factory.FromSetting(r.Context(), st)
	if err != nil {
		_ = httputil.WriteSuccess(w, ProbeResult{
			Driver: st.Driver,
			Steps:  []ProbeStep{{Operation: "make", Error: kindName(err)}},
		})
		return
	}
	_ = httputil.WriteSuccess(w, Probe(r.Context(), driver))
}

// Probe exercises every driver operation on a throwaway private object. It
// stops at the first failing step but always attempts the delete.
func Probe(ctx context.Context, driver Driver) ProbeResult {
	start := time.Now()
	result := ProbeResult{Driver: driver.Name(), OK: true}
	path := fmt.Sprintf("%s/%s.txt", probePrefix, uuid.NewString())
	payload := []byte("creatorhub storage probe " + start.UTC().Format(time.RFC3339))

	record := func(op string, err error) bool {
		step := ProbeStep{Operation: op, OK: err == nil}
		if err != nil {
			step.Error = kindName(err)
			result.OK = false
		}
		result.Steps = append(result.Steps, step)
		return err == nil
	}

	if _, err := driver.Put(ctx, path, payload, VisibilityPrivate); record("put", err) {
		exists, err := driver.Exists(ctx, path)
		if err == nil && !exists {
			err = errors.New("object missing after put")
		}
		if record("exists", err) {
			data, err := driver.Get(ctx, path)
			if err == nil && string(data) != string(payload) {
				err = errors.New("content mismatch")
			}
			record("get", err)
		}
	}
	record("delete", driver.Delete(ctx, path))

	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// kindName reports the failure class only; backend messages may carry
// account identifiers
func kindName(err error) string {
	if k := KindOf(err); k != nil {
		return k.Name()
	}
	return err.Error()
}

func writeConfigProblem(w http.ResponseWriter, err error) {
	var se *Error
	if errors.As(err, &se) && se.Err != nil {
		httputil.WriteBadRequest(w, "invalid storage configuration: "+se.Err.Error())
		return
	}
	if errors.Is(err, ErrUnsupportedDriver) {
		httputil.WriteBadRequest(w, "unsupported storage driver")
		return
	}
	httputil.WriteBadRequest(w, "invalid storage configuration")
}
