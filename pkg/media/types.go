package media

import (
	"net/http"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/creatorhub/creatorhub/pkg/rbac"
	"github.com/creatorhub/creatorhub/pkg/storage"
)

// Library is a named collection with its own upload rules
type Library struct {
	Name string
	// AllowedTypes lists accepted MIME types. A detected type matches when it
	// or one of its parents in the mimetype tree is listed.
	AllowedTypes []string
	MaxSize      int64
}

// Accepts reports whether the detected type is allowed in the library
func (l Library) Accepts(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if mimetype.EqualsAny(m.String(), l.AllowedTypes...) {
			return true
		}
	}
	return false
}

// Library names
const (
	LibraryAudio   = "audio"
	LibraryImage   = "image"
	LibraryVideo   = "video"
	LibraryFootage = "footage"
)

var videoTypes = []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska", "video/x-msvideo"}

// DefaultLibraries returns the built-in libraries
func DefaultLibraries() []Library {
	return []Library{
		{
			Name:         LibraryAudio,
			AllowedTypes: []string{"audio/mpeg", "audio/wav", "audio/x-wav", "audio/flac", "audio/ogg", "audio/aac", "audio/mp4", "audio/x-m4a"},
			MaxSize:      100 << 20,
		},
		{
			Name:         LibraryImage,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			MaxSize:      20 << 20,
		},
		{Name: LibraryVideo, AllowedTypes: videoTypes, MaxSize: 500 << 20},
		{Name: LibraryFootage, AllowedTypes: videoTypes, MaxSize: 500 << 20},
	}
}

// Policies returns the ownership policy of every library, for registration
// with rbac.Authorizer
func Policies(libraries []Library) []*rbac.OwnershipPolicy {
	out := make([]*rbac.OwnershipPolicy, 0, len(libraries))
	for _, l := range libraries {
		out = append(out, rbac.NewOwnershipPolicy(l.Name))
	}
	return out
}

// Item is an uploaded file in a library
type Item struct {
	ID         int64              `json:"id"`
	UserID     int64              `json:"user_id"`
	Library    string             `json:"library"`
	Title      string             `json:"title"`
	Driver     string             `json:"driver"`
	Path       string             `json:"path"`
	URL        string             `json:"url"`
	Size       int64              `json:"size"`
	MimeType   string             `json:"mime_type"`
	Visibility storage.Visibility `json:"visibility"`
	// Location identifies the storage setting the file was written to
	Location   string             `json:"-"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// OwnerID implements rbac.Owned
func (i *Item) OwnerID() int64 { return i.UserID }

// Page is a window of a listing
type Page struct {
	Limit  int
	Offset int
}

// Error is a media failure with a fixed client-facing status
type Error struct {
	status int
	msg    string
}

func (e *Error) Error() string         { return "media: " + e.msg }
func (e *Error) HTTPStatus() int       { return e.status }
func (e *Error) PublicMessage() string { return e.msg }

var (
	ErrItemNotFound      = &Error{status: http.StatusNotFound, msg: "item not found"}
	ErrUnknownLibrary    = &Error{status: http.StatusNotFound, msg: "unknown library"}
	ErrEmptyFile         = &Error{status: http.StatusBadRequest, msg: "file is empty"}
	ErrFileTooLarge      = &Error{status: http.StatusRequestEntityTooLarge, msg: "file is too large for this library"}
	ErrUnsupportedType   = &Error{status: http.StatusUnsupportedMediaType, msg: "file type is not accepted by this library"}
	ErrInvalidTitle      = &Error{status: http.StatusBadRequest, msg: "title must be between 1 and 255 characters"}
	ErrInvalidVisibility = &Error{status: http.StatusBadRequest, msg: "visibility must be public or private"}
	ErrStorageRetired    = &Error{status: http.StatusConflict, msg: "file is stored on a storage backend that is no longer active"}
)

func libraryNames(libs map[string]Library) []string {
	names := make([]string, 0, len(libs))
	for n := range libs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
