package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/creatorhub/creatorhub/pkg/httputil"
	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
)

// APIPrefix is where authenticated module routes are mounted
const APIPrefix = "/api/v1"

// RouteRegistrar is a module exposing HTTP routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Options wires the server. Authenticate and RBAC are required; everything
// else may be left empty.
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Authenticate resolves the caller and puts the user ID in the context
	Authenticate func(http.Handler) http.Handler
	// RateLimit runs after authentication so users and anonymous callers
	// get separate limits
	RateLimit func(http.Handler) http.Handler
	RBAC      *rbac.Middleware

	Modules []RouteRegistrar

	// LocalFiles serves public files of the local storage driver under
	// LocalRoute, outside authentication
	LocalFiles   http.Handler
	LocalRoute   string
	MaxBodyBytes int64

	// ServiceName enables otelhttp spans when set
	ServiceName string
}

// Server is the public HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router.
//
// Every request passes recovery, request ID, logging and metrics. Requests
// under APIPrefix are then authenticated, rate limited and get their actor
// loaded before reaching a module.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	s := &Server{router: mux.NewRouter()}
	s.router.Use(
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
	)
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})

	if opts.LocalFiles != nil && opts.LocalRoute != "" {
		route := "/" + strings.Trim(opts.LocalRoute, "/")
		s.router.PathPrefix(route + "/").Handler(http.StripPrefix(route, opts.LocalFiles)).
			Methods(http.MethodGet, http.MethodHead)
	}

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	if opts.MaxBodyBytes > 0 {
		api.Use(httputil.MaxBytesMiddleware(opts.MaxBodyBytes))
	}
	api.Use(opts.Authenticate)
	if opts.RateLimit != nil {
		api.Use(opts.RateLimit)
	}
	api.Use(opts.RBAC.LoadActor)

	for _, m := range opts.Modules {
		m.RegisterRoutes(api)
	}

	s.handler = s.router
	if opts.ServiceName != "" {
		s.handler = otelhttp.NewHandler(s.router, opts.ServiceName)
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router, mostly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// NewHealthRouter serves health probes and, when gatherer is set, Prometheus
// metrics. It is meant for the separate health port.
func NewHealthRouter(checker *observability.HealthChecker, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if gatherer != nil {
		router.Handle("/metrics", observability.MetricsHandler(gatherer)).Methods(http.MethodGet)
	}
	return router
}
