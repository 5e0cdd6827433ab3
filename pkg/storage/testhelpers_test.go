package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const sqliteSchema = `
CREATE TABLE storage_settings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	driver TEXT NOT NULL,
	access_key TEXT NOT NULL DEFAULT '',
	secret TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	bucket TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	use_path_style_endpoint BOOLEAN NOT NULL DEFAULT 0,
	root_path TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX idx_storage_settings_single_active ON storage_settings (active) WHERE active;
`

// setupTestDB creates an in-memory database with the storage schema
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

func testKey() *[32]byte {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	return &key
}

func s3Setting(bucket string, active bool) *StorageSetting {
	return &StorageSetting{
		Driver: DriverAWSS3,
		Key:    "AKIAEXAMPLE1234",
		Secret: "super-secret-value",
		Region: "eu-west-1",
		Bucket: bucket,
		Active: active,
	}
}

func localSetting(root string, active bool) *StorageSetting {
	return &StorageSetting{Driver: DriverLocal, RootPath: root, Active: active}
}

func createSetting(t *testing.T, repo SettingRepository, st *StorageSetting) *StorageSetting {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), st))
	return st
}

func strPtr(s string) *string { return &s }

// staticSource is an ActiveSource returning a fixed setting
type staticSource struct {
	setting *StorageSetting
	err     error
	calls   int
}

func (s *staticSource) GetActive(ctx context.Context) (*StorageSetting, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.setting == nil {
		return nil, newError(ErrNoActiveConfig, "get active setting", "", "", nil)
	}
	cp := *s.setting
	return &cp, nil
}

type fakeObject struct {
	data        []byte
	acl         types.ObjectCannedACL
	contentType string
}

// fakeS3 is an in-memory bucket implementing s3API and presignAPI
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject

	putErr    error
	getErr    error
	headErr   error
	deleteErr error
	// block makes every call wait for its context to end
	block bool

	lastExpires time.Duration
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) clients() *s3Clients {
	return &s3Clients{api: f, presign: f}
}

func (f *fakeS3) wait(ctx context.Context) error {
	if !f.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeS3) objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.objectKey(in.Bucket, in.Key)] = fakeObject{data: data, acl: in.ACL, contentType: aws.ToString(in.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[f.objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[f.objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, f.objectKey(in.Bucket, in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.mu.Lock()
	f.lastExpires = opts.Expires
	f.mu.Unlock()
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://signed.test/%s/%s?X-Amz-Expires=%d",
			aws.ToString(in.Bucket), aws.ToString(in.Key), int(opts.Expires.Seconds())),
		Method: "GET",
	}, nil
}

func (f *fakeS3) object(bucket, key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj, ok
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

// fakeClientCache returns a cache whose builder hands out clients of fake
// and counts builds
func fakeClientCache(fake *fakeS3, builds *int) *ClientCache {
	c := NewClientCache(8, time.Minute, nil)
	c.build = func(ctx context.Context, cfg Config) (*s3Clients, error) {
		if builds != nil {
			*builds++
		}
		if strings.Contains(cfg.Key, "broken") {
			return nil, fmt.Errorf("cannot build client")
		}
		return fake.clients(), nil
	}
	return c
}
