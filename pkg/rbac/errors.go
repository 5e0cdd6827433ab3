package rbac

import (
	"errors"
	"net/http"
)

// Error is a store or authorization failure with a fixed client-facing status
type Error struct {
	status int
	msg    string
}

func (e *Error) Error() string         { return "rbac: " + e.msg }
func (e *Error) HTTPStatus() int       { return e.status }
func (e *Error) PublicMessage() string { return e.msg }

var (
	// ErrForbidden is the only thing a denied actor ever learns
	ErrForbidden = &Error{status: http.StatusForbidden, msg: "forbidden"}

	ErrRoleNotFound       = &Error{status: http.StatusNotFound, msg: "role not found"}
	ErrPermissionNotFound = &Error{status: http.StatusNotFound, msg: "permission not found"}
	ErrUserNotFound       = &Error{status: http.StatusNotFound, msg: "user not found"}
	ErrSystemRole         = &Error{status: http.StatusConflict, msg: "system roles cannot be deleted"}
	ErrDuplicateSlug      = &Error{status: http.StatusConflict, msg: "slug already exists"}
	ErrDuplicateEmail     = &Error{status: http.StatusConflict, msg: "email already registered"}
	ErrUnknownPermissions = &Error{status: http.StatusBadRequest, msg: "unknown permission slug"}
	ErrUnknownPolicy      = errors.New("rbac: no policy registered for module")
)

// DeniedError carries the audit detail of a denial. It matches ErrForbidden
// with errors.Is and renders exactly like it.
type DeniedError struct {
	Module  string
	Ability Ability
	Rule    Rule
	ActorID int64
}

func (e *DeniedError) Error() string {
	return "rbac: forbidden"
}

func (e *DeniedError) Is(target error) bool { return target == ErrForbidden }

func (e *DeniedError) HTTPStatus() int       { return http.StatusForbidden }
func (e *DeniedError) PublicMessage() string { return ErrForbidden.msg }

// IsForbidden reports whether err is an authorization denial
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
