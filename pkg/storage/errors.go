package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Kind classifies a storage failure. Kinds are compared with errors.Is.
type Kind struct {
	name   string
	status int
	public string
}

func (k *Kind) Error() string         { return "storage: " + k.name }
func (k *Kind) Name() string          { return k.name }
func (k *Kind) HTTPStatus() int       { return k.status }
func (k *Kind) PublicMessage() string { return k.public }

const uploadsUnavailable = "file uploads are temporarily unavailable"

// Configuration kinds. All of them surface as 503 so that neither driver
// names nor credentials reach the client.
var (
	ErrNoActiveConfig    = &Kind{name: "no_active_config", status: http.StatusServiceUnavailable, public: uploadsUnavailable}
	ErrUnsupportedDriver = &Kind{name: "unsupported_driver", status: http.StatusServiceUnavailable, public: uploadsUnavailable}
	ErrInvalidConfig     = &Kind{name: "invalid_config", status: http.StatusServiceUnavailable, public: uploadsUnavailable}
)

// Operation kinds
var (
	ErrWrite       = &Kind{name: "write", status: http.StatusBadGateway, public: "storage backend rejected the write"}
	ErrRead        = &Kind{name: "read", status: http.StatusBadGateway, public: "storage backend read failed"}
	ErrTimeout     = &Kind{name: "timeout", status: http.StatusGatewayTimeout, public: "storage backend timed out"}
	ErrNotFound    = &Kind{name: "not_found", status: http.StatusNotFound, public: "file not found"}
	ErrInvalidPath = &Kind{name: "invalid_path", status: http.StatusBadRequest, public: "invalid file path"}
)

// Setting store kinds
var (
	ErrSettingNotFound     = &Kind{name: "setting_not_found", status: http.StatusNotFound, public: "storage setting not found"}
	ErrActiveSettingDelete = &Kind{name: "active_setting_delete", status: http.StatusConflict, public: "the active storage setting cannot be deleted"}
	ErrActivationConflict  = &Kind{name: "activation_conflict", status: http.StatusConflict, public: "another activation is in progress, try again"}
)

// Error is the single error type returned by drivers, the factory and the
// setting store.
type Error struct {
	Kind   *Kind
	Op     string
	Driver string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("storage: ")
	b.WriteString(e.Op)
	if e.Driver != "" {
		b.WriteString(" [" + e.Driver + "]")
	}
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.name)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the backend error
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *Error) HTTPStatus() int       { return e.Kind.status }
func (e *Error) PublicMessage() string { return e.Kind.public }

// newError builds an *Error. A context deadline anywhere in err turns the
// kind into ErrTimeout.
func newError(kind *Kind, op, driver, path string, err error) *Error {
	if err != nil && kind != ErrNotFound && errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Op: op, Driver: driver, Path: path, Err: err}
}

// KindOf returns the kind of err, or nil when err is not a storage error
func KindOf(err error) *Kind {
	var k *Kind
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// IsConfigError reports whether err means storage is not usable at all
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoActiveConfig) ||
		errors.Is(err, ErrUnsupportedDriver) ||
		errors.Is(err, ErrInvalidConfig)
}
