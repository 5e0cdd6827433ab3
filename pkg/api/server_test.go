package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorhub/creatorhub/pkg/auth"
	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/middleware"
	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
)

const goodToken = "chub_good"

type stubTokens struct{}

func (stubTokens) Validate(_ context.Context, token string) (*auth.APIToken, error) {
	if token == goodToken {
		return &auth.APIToken{ID: 1, UserID: 5}, nil
	}
	return nil, auth.ErrInvalidToken
}

type stubLoader struct{}

func (stubLoader) LoadActor(_ context.Context, id int64) (*rbac.User, error) {
	return &rbac.User{ID: id, Roles: []rbac.Role{{Slug: "customer"}}}, nil
}

type echoModule struct {
	mw *rbac.Middleware
}

func (m echoModule) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := rbac.ActorFromContext(r.Context())
		_ = httputil.WriteSuccess(w, map[string]int64{"id": actor.ID})
	}).Methods(http.MethodGet)
	router.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}).Methods(http.MethodGet)
	router.Handle("/admin", m.mw.RequirePermission("manage_roles")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNoContent(w)
	}))).Methods(http.MethodGet)
}

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	mw := rbac.NewMiddleware(stubLoader{}, rbac.NewAuthorizer(nil, nil))
	opts := Options{
		Metrics:      observability.NewMetrics(prometheus.NewRegistry()),
		Authenticate: middleware.NewAuthMiddleware(stubTokens{}, nil, nil, false).Handler,
		RBAC:         mw,
		Modules:      []RouteRegistrar{echoModule{mw: mw}},
		LocalFiles: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("file:" + r.URL.Path))
		}),
		LocalRoute: "/files",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewServer(opts)
}

func get(s http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_Authentication(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, APIPrefix+"/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(s, APIPrefix+"/whoami", "chub_bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(s, APIPrefix+"/whoami", goodToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(5), body["id"])
	assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))
}

func TestServer_PermissionGuard(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, APIPrefix+"/admin", goodToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, APIPrefix+"/panic", goodToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestServer_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Hour})
	s := newTestServer(t, func(o *Options) {
		o.RateLimit = middleware.NewRateLimitMiddleware(limiter, limiter, nil, o.Metrics).Handler
	})

	for i := 0; i < 2; i++ {
		rec := get(s, APIPrefix+"/whoami", goodToken)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := get(s, APIPrefix+"/whoami", goodToken)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServer_LocalFilesBypassAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, "/files/audio/1/a.mp3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "file:/audio/1/a.mp3", rec.Body.String())
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(s, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestServer_Tracing(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.ServiceName = "creatorhub-test" })

	rec := get(s, APIPrefix+"/whoami", goodToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthRouter(t *testing.T) {
	checker := observability.NewHealthChecker(nil, nil, "test")
	checker.AddCheck("storage", false, func(context.Context) error { return nil })
	router := NewHealthRouter(checker, prometheus.NewRegistry())

	rec := get(router, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(router, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status observability.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "storage")

	rec = get(router, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
