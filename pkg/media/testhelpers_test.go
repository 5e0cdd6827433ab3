package media

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/creatorhub/creatorhub/pkg/rbac"
	"github.com/creatorhub/creatorhub/pkg/storage"
)

const sqliteSchema = `
CREATE TABLE media_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	library TEXT NOT NULL,
	title TEXT NOT NULL,
	driver TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL,
	url TEXT NOT NULL,
	size INTEGER NOT NULL,
	mime_type TEXT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'private',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

var (
	mp3Bytes  = append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 128)...)
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	textBytes = []byte("just some notes, not a song")
)

func actorWith(id int64, perms ...string) *rbac.User {
	role := rbac.Role{Slug: "test"}
	for _, p := range perms {
		role.Permissions = append(role.Permissions, rbac.Permission{Slug: p})
	}
	return &rbac.User{ID: id, Roles: []rbac.Role{role}}
}

func customer(id int64) *rbac.User {
	return actorWith(id, "view_audio", "manage_audio", "view_image", "manage_image")
}

func moderator(id int64) *rbac.User {
	return actorWith(id, "view_audio", "view_all_audio", "update_any_audio", "delete_any_audio")
}

func superAdmin(id int64) *rbac.User {
	return &rbac.User{ID: id, IsSystem: true, Roles: []rbac.Role{{Slug: rbac.RoleSuperAdmin}}}
}

func newAuthorizer() *rbac.Authorizer {
	a := rbac.NewAuthorizer(nil, nil)
	a.Register(Policies(DefaultLibraries())...)
	return a
}

// memDriver is an in-memory storage.Driver
type memDriver struct {
	name      string
	location  string
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

func newMemDriver(name string) *memDriver {
	return &memDriver{name: name, objects: make(map[string][]byte)}
}

func (d *memDriver) Name() string { return d.name }

func (d *memDriver) Location() string { return d.name + ":" + d.location }

func (d *memDriver) Put(_ context.Context, p string, contents []byte, _ storage.Visibility) (*storage.FileDescriptor, error) {
	if d.putErr != nil {
		return nil, d.putErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[p] = append([]byte(nil), contents...)
	return &storage.FileDescriptor{Path: p, URL: "https://cdn.test/" + p, Size: int64(len(contents))}, nil
}

func (d *memDriver) Get(_ context.Context, p string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[p]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (d *memDriver) Delete(_ context.Context, p string) error {
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, p)
	d.deleted = append(d.deleted, p)
	return nil
}

func (d *memDriver) Exists(_ context.Context, p string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[p]
	return ok, nil
}

func (d *memDriver) URL(_ context.Context, p string) (string, error) {
	return "https://cdn.test/" + p, nil
}

func (d *memDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

// signingDriver adds storage.Signer to memDriver
type signingDriver struct{ *memDriver }

func (d signingDriver) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://cdn.test/%s?expires=%d", p, int(ttl.Seconds())), nil
}

// fakeDrivers is a DriverSource returning a fixed driver or error
type fakeDrivers struct {
	driver storage.Driver
	err    error
	calls  int
}

func (f *fakeDrivers) Make(_ context.Context, driver string, cfg *storage.ConfigPatch) (storage.Driver, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.driver, nil
}

type serviceEnv struct {
	store   *Store
	drivers *fakeDrivers
	mem     *memDriver
	service *Service
}

func setupService(t *testing.T, opts Options) *serviceEnv {
	t.Helper()
	store := NewStore(setupTestDB(t))
	mem := newMemDriver("memory")
	drivers := &fakeDrivers{driver: mem}
	return &serviceEnv{
		store:   store,
		drivers: drivers,
		mem:     mem,
		service: NewService(store, drivers, newAuthorizer(), DefaultLibraries(), opts),
	}
}

func upload(t *testing.T, env *serviceEnv, actor *rbac.User, library, title string, data []byte, vis storage.Visibility) *Item {
	t.Helper()
	item, err := env.service.Upload(context.Background(), actor, library, UploadInput{Title: title, Contents: data, Visibility: vis})
	require.NoError(t, err)
	return item
}
