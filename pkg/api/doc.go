// Package api assembles the CreatorHub HTTP surface.
//
// NewServer mounts module routes (rbac, storage, auth, media) below /api/v1
// behind the shared middleware chain:
//
//	recovery -> request ID -> logging -> metrics        (every request)
//	  -> body limit -> authentication -> rate limit -> actor loading  (/api/v1)
//
// Modules only implement RouteRegistrar and rely on rbac.ActorFromContext
// for the caller. Public files of the local storage driver are served next
// to the API, outside authentication.
//
// NewHealthRouter exposes /health, /health/live, /health/ready and /metrics
// for the separate health port.
package api
