package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/creatorhub/creatorhub/pkg/observability"
	"github.com/creatorhub/creatorhub/pkg/rbac"
	"github.com/creatorhub/creatorhub/pkg/storage"
)

// DriverSource hands out the storage driver to use for a call.
// *storage.Factory implements it.
type DriverSource interface {
	Make(ctx context.Context, driver string, cfg *storage.ConfigPatch) (storage.Driver, error)
}

// Options configures a Service
type Options struct {
	// MaxUploadBytes caps every library's MaxSize when positive
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
	Metrics        *observability.Metrics
	Logger         *observability.Logger
}

// Service implements library operations on top of the item store, the
// authorizer and the active storage driver
type Service struct {
	store      *Store
	drivers    DriverSource
	authorizer *rbac.Authorizer
	libraries  map[string]Library
	opts       Options
}

// NewService creates a media service. The authorizer must have a policy for
// every library; see Policies.
func NewService(store *Store, drivers DriverSource, authorizer *rbac.Authorizer, libraries []Library, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 15 * time.Minute
	}
	libs := make(map[string]Library, len(libraries))
	for _, l := range libraries {
		if opts.MaxUploadBytes > 0 && (l.MaxSize <= 0 || l.MaxSize > opts.MaxUploadBytes) {
			l.MaxSize = opts.MaxUploadBytes
		}
		libs[l.Name] = l
	}
	return &Service{store: store, drivers: drivers, authorizer: authorizer, libraries: libs, opts: opts}
}

// Libraries returns the configured libraries sorted by name
func (s *Service) Libraries() []Library {
	out := make([]Library, 0, len(s.libraries))
	for _, name := range libraryNames(s.libraries) {
		out = append(out, s.libraries[name])
	}
	return out
}

// Library returns a library by name
func (s *Service) Library(name string) (Library, error) {
	lib, ok := s.libraries[name]
	if !ok {
		return Library{}, ErrUnknownLibrary
	}
	return lib, nil
}

// List returns every item of the library to actors holding the broad view
// permission and only their own items to everyone else
func (s *Service) List(ctx context.Context, actor *rbac.User, library string, page Page) ([]*Item, error) {
	if _, err := s.Library(library); err != nil {
		return nil, err
	}
	if err := s.authorizer.Check(ctx, actor, library, rbac.AbilityViewAny, nil); err != nil {
		return nil, err
	}

	var owner *int64
	if !s.seesAll(actor, library) {
		owner = &actor.ID
	}
	return s.store.List(ctx, library, owner, page)
}

func (s *Service) seesAll(actor *rbac.User, library string) bool {
	if actor.IsSuperAdmin() {
		return true
	}
	policy, err := s.authorizer.Policy(library)
	if err != nil {
		return false
	}
	broad := policy.Rules[rbac.AbilityView].AnyPermission
	return broad != "" && rbac.HasPermission(actor, broad)
}

// Get returns an item the actor may view
func (s *Service) Get(ctx context.Context, actor *rbac.User, library string, id int64) (*Item, error) {
	return s.load(ctx, actor, library, id, rbac.AbilityView)
}

func (s *Service) load(ctx context.Context, actor *rbac.User, library string, id int64, ability rbac.Ability) (*Item, error) {
	if _, err := s.Library(library); err != nil {
		return nil, err
	}
	item, err := s.store.Get(ctx, library, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.Check(ctx, actor, library, ability, item); err != nil {
		return nil, err
	}
	return item, nil
}

// UploadInput is a file to add to a library
type UploadInput struct {
	Title string
	// Visibility defaults to private
	Visibility storage.Visibility
	Contents   []byte
}

// Upload validates the file against the library rules, stores it with the
// active driver and records the item. If recording fails the stored file is
// removed again.
func (s *Service) Upload(ctx context.Context, actor *rbac.User, library string, in UploadInput) (*Item, error) {
	lib, err := s.Library(library)
	if err != nil {
		return nil, err
	}
	if err := s.authorizer.Check(ctx, actor, library, rbac.AbilityCreate, nil); err != nil {
		return nil, err
	}

	item, mt, err := s.prepare(lib, actor, in)
	if err != nil {
		s.opts.Metrics.RecordMediaUpload(library, "rejected")
		return nil, err
	}

	driver, err := s.drivers.Make(ctx, "", nil)
	if err != nil {
		s.opts.Metrics.RecordMediaUpload(library, "error")
		return nil, err
	}

	objectPath := fmt.Sprintf("%s/%d/%s%s", library, actor.ID, uuid.NewString(), mt.Extension())
	fd, err := driver.Put(ctx, objectPath, in.Contents, item.Visibility)
	if err != nil {
		s.opts.Metrics.RecordMediaUpload(library, "error")
		return nil, err
	}

	item.Driver = driver.Name()
	item.Location = storage.LocationOf(driver)
	item.Path = fd.Path
	item.URL = fd.URL
	item.Size = fd.Size
	if fd.MimeType != "" {
		item.MimeType = fd.MimeType
	}

	if err := s.store.Create(ctx, item); err != nil {
		if derr := driver.Delete(ctx, fd.Path); derr != nil {
			s.logger(ctx).WithError(derr).WithField("path", fd.Path).Warn("failed to remove orphaned upload")
		}
		s.opts.Metrics.RecordMediaUpload(library, "error")
		return nil, err
	}

	s.opts.Metrics.RecordMediaUpload(library, "success")
	s.logger(ctx).WithFields(map[string]interface{}{
		"library": library,
		"item_id": item.ID,
		"size":    item.Size,
		"driver":  item.Driver,
	}).Info("media uploaded")
	return item, nil
}

func (s *Service) prepare(lib Library, actor *rbac.User, in UploadInput) (*Item, *mimetype.MIME, error) {
	title, err := normalizeTitle(in.Title)
	if err != nil {
		return nil, nil, err
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = storage.VisibilityPrivate
	}
	if !visibility.Valid() {
		return nil, nil, ErrInvalidVisibility
	}

	if len(in.Contents) == 0 {
		return nil, nil, ErrEmptyFile
	}
	if lib.MaxSize > 0 && int64(len(in.Contents)) > lib.MaxSize {
		return nil, nil, ErrFileTooLarge
	}
	mt := mimetype.Detect(in.Contents)
	if !lib.Accepts(mt) {
		return nil, nil, ErrUnsupportedType
	}

	return &Item{
		UserID:     actor.ID,
		Library:    lib.Name,
		Title:      title,
		MimeType:   mt.String(),
		Visibility: visibility,
	}, mt, nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > 255 {
		return "", ErrInvalidTitle
	}
	return title, nil
}

// Rename changes an item's title
func (s *Service) Rename(ctx context.Context, actor *rbac.User, library string, id int64, title string) (*Item, error) {
	item, err := s.load(ctx, actor, library, id, rbac.AbilityUpdate)
	if err != nil {
		return nil, err
	}
	title, err = normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTitle(ctx, item.ID, title); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, library, id)
}

// Delete removes the file and then the item. A file stored on a setting that
// is no longer active is left in place and logged.
func (s *Service) Delete(ctx context.Context, actor *rbac.User, library string, id int64) error {
	item, err := s.load(ctx, actor, library, id, rbac.AbilityDelete)
	if err != nil {
		return err
	}

	driver, err := s.drivers.Make(ctx, "", nil)
	if err != nil {
		return err
	}
	if storedOn(item, driver) {
		if err := driver.Delete(ctx, item.Path); err != nil {
			return err
		}
	} else {
		s.logger(ctx).WithFields(map[string]interface{}{
			"item_id":         item.ID,
			"path":            item.Path,
			"stored_driver":   item.Driver,
			"stored_location": item.Location,
			"active_driver":   driver.Name(),
			"active_location": storage.LocationOf(driver),
		}).Warn("media file left on inactive storage backend")
	}

	return s.store.Delete(ctx, item.ID)
}

// URL returns a link to the item's file. Private files get a time-limited
// URL when the driver can sign one.
func (s *Service) URL(ctx context.Context, actor *rbac.User, library string, id int64) (string, error) {
	item, err := s.load(ctx, actor, library, id, rbac.AbilityView)
	if err != nil {
		return "", err
	}
	if item.Visibility == storage.VisibilityPublic {
		return item.URL, nil
	}

	driver, err := s.activeFor(ctx, item)
	if err != nil {
		return "", err
	}
	return storage.SignedURL(ctx, driver, item.Path, s.opts.SignedURLTTL)
}

// Content reads the item's file
func (s *Service) Content(ctx context.Context, actor *rbac.User, library string, id int64) (*Item, []byte, error) {
	item, err := s.load(ctx, actor, library, id, rbac.AbilityView)
	if err != nil {
		return nil, nil, err
	}
	driver, err := s.activeFor(ctx, item)
	if err != nil {
		return nil, nil, err
	}
	data, err := driver.Get(ctx, item.Path)
	if err != nil {
		return nil, nil, err
	}
	return item, data, nil
}

func (s *Service) activeFor(ctx context.Context, item *Item) (storage.Driver, error) {
	driver, err := s.drivers.Make(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	if !storedOn(item, driver) {
		return nil, ErrStorageRetired
	}
	return driver, nil
}

// storedOn reports whether item's file lives where driver reads and writes.
// Items recorded before locations were tracked only compare the driver name.
func storedOn(item *Item, driver storage.Driver) bool {
	if driver.Name() != item.Driver {
		return false
	}
	return item.Location == "" || item.Location == storage.LocationOf(driver)
}

func (s *Service) logger(ctx context.Context) *observability.Logger {
	return observability.FromContextOr(ctx, s.opts.Logger)
}

// IsClientError reports whether err is a rejection of the caller's input or
// rights rather than a backend failure
func IsClientError(err error) bool {
	var mediaErr *Error
	return errors.As(err, &mediaErr) || rbac.IsForbidden(err)
}
