package storage

import (
	"context"
	"path"
	"strings"
	"time"
)

// Visibility controls whether a stored object is publicly readable
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// FileDescriptor is what a successful Put returns. Callers persist it
// unchanged; the storage layer never reads it back.
type FileDescriptor struct {
	Path     string `json:"path"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// StorageFile is a FileDescriptor persisted by a content module
type StorageFile struct {
	ID int64 `json:"id"`
	FileDescriptor
}

// Driver is implemented by every storage backend.
//
// Paths are slash separated and relative; the driver applies its root path.
// Delete and Exists treat a missing object as a normal outcome, only Get
// fails with ErrNotFound.
type Driver interface {
	// Name returns the driver identifier, e.g. "aws_s3"
	Name() string
	Put(ctx context.Context, path string, contents []byte, visibility Visibility) (*FileDescriptor, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	URL(ctx context.Context, path string) (string, error)
}

// Signer is implemented by drivers that can hand out time-limited URLs for
// private objects
type Signer interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// SignedURL returns a time-limited URL when the driver (or the driver it
// decorates) supports signing, and the regular URL otherwise
func SignedURL(ctx context.Context, d Driver, path string, ttl time.Duration) (string, error) {
	for cur := d; cur != nil; {
		if s, ok := cur.(Signer); ok {
			return s.SignedURL(ctx, path, ttl)
		}
		u, ok := cur.(interface{ Unwrap() Driver })
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	return d.URL(ctx, path)
}

// Locator is implemented by drivers that can tell which storage location
// they read and write, see Config.Location
type Locator interface {
	Location() string
}

// LocationOf returns the location of d (or of the driver it decorates). Drivers
// that do not implement Locator are identified by name.
func LocationOf(d Driver) string {
	for cur := d; cur != nil; {
		if l, ok := cur.(Locator); ok {
			return l.Location()
		}
		u, ok := cur.(interface{ Unwrap() Driver })
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	return d.Name()
}

// cleanPath normalises a caller supplied path and rejects anything that would
// escape the driver root
func cleanPath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", false
	}
	return cleaned, true
}

// objectKey joins the configured root prefix and a cleaned path
func objectKey(root, p string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return p
	}
	return root + "/" + p
}
