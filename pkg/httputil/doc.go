// Package httputil provides HTTP utilities for standardized request/response handling.
//
// Handlers decode and validate bodies in one step:
//
//	var req createSettingRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return
//	}
//
// Domain errors implement PublicError and are rendered by WriteDomainError, so
// a denied authorization becomes a 403 "forbidden" and a missing storage
// configuration becomes a 503 without leaking internals:
//
//	if err != nil {
//		httputil.WriteDomainError(w, r, err)
//		return
//	}
//
// Middleware composes with Chain:
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
