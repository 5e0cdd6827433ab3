package auth

import "net/http"

// Error is a token failure with a fixed client-facing status
type Error struct {
	status int
	msg    string
}

func (e *Error) Error() string         { return "auth: " + e.msg }
func (e *Error) HTTPStatus() int       { return e.status }
func (e *Error) PublicMessage() string { return e.msg }

// Validation failures all answer 401 with the same message so a caller
// cannot tell an unknown token from a revoked one.
var (
	ErrInvalidToken = &Error{status: http.StatusUnauthorized, msg: "invalid or expired token"}
	ErrTokenExpired = &Error{status: http.StatusUnauthorized, msg: "invalid or expired token"}
	ErrTokenRevoked = &Error{status: http.StatusUnauthorized, msg: "invalid or expired token"}

	ErrTokenNotFound = &Error{status: http.StatusNotFound, msg: "token not found"}
	ErrInvalidExpiry = &Error{status: http.StatusBadRequest, msg: "expiry must be in the future"}
)
