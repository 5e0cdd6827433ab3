package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/creatorhub/creatorhub/pkg/storage")

// DefaultSignedURLTTL is used when URL has to presign
const DefaultSignedURLTTL = 15 * time.Minute

// s3API is the part of *s3.Client the driver uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presignAPI is the part of *s3.PresignClient the driver uses
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// s3Clients is what a config needs from the SDK
type s3Clients struct {
	api     s3API
	presign presignAPI
}

// newS3Clients builds SDK clients for a resolved config. Static credentials
// are used when a key is configured, the default chain otherwise.
func newS3Clients(ctx context.Context, cfg Config) (*s3Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyleEndpoint
	})
	return &s3Clients{api: client, presign: s3.NewPresignClient(client)}, nil
}

// S3Driver stores objects in any S3 compatible bucket
type S3Driver struct {
	name    string
	cfg     Config
	profile providerProfile
	clients *s3Clients
}

// NewS3Driver creates a driver for an S3 compatible provider. cfg must already
// carry the provider defaults.
func NewS3Driver(name string, cfg Config, clients *s3Clients) *S3Driver {
	return &S3Driver{name: name, cfg: cfg, profile: providerProfiles[name], clients: clients}
}

// Name implements Driver
func (d *S3Driver) Name() string { return d.name }

// Location implements Locator
func (d *S3Driver) Location() string { return d.cfg.Location() }

func (d *S3Driver) key(op, p string) (string, error) {
	cleaned, ok := cleanPath(p)
	if !ok {
		return "", newError(ErrInvalidPath, op, d.name, p, nil)
	}
	return objectKey(d.cfg.RootPath, cleaned), nil
}

func (d *S3Driver) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "storage.S3."+op, trace.WithAttributes(
		attribute.String("storage.driver", d.name),
		attribute.String("s3.bucket", d.cfg.Bucket),
		attribute.String("s3.key", key),
	))
}

func fail(span trace.Span, err *Error) *Error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.Name())
	return err
}

// Put implements Driver
func (d *S3Driver) Put(ctx context.Context, p string, contents []byte, visibility Visibility) (*FileDescriptor, error) {
	key, err := d.key("put", p)
	if err != nil {
		return nil, err
	}
	ctx, span := d.startSpan(ctx, "PutObject", key)
	defer span.End()

	mime := mimetype.Detect(contents).String()
	span.SetAttributes(attribute.Int("content.size", len(contents)), attribute.String("content.type", mime))

	in := &s3.PutObjectInput{
		Bucket:        aws.String(d.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(contents),
		ContentLength: aws.Int64(int64(len(contents))),
		ContentType:   aws.String(mime),
	}
	if d.profile.supportsACL {
		in.ACL = types.ObjectCannedACLPrivate
		if visibility == VisibilityPublic {
			in.ACL = types.ObjectCannedACLPublicRead
		}
	}
	if _, err := d.clients.api.PutObject(ctx, in); err != nil {
		return nil, fail(span, newError(ErrWrite, "put", d.name, p, err))
	}

	u, err := d.URL(ctx, p)
	if err != nil {
		return nil, fail(span, newError(ErrWrite, "put", d.name, p, err))
	}
	span.SetStatus(codes.Ok, "")
	return &FileDescriptor{Path: p, URL: u, Size: int64(len(contents)), MimeType: mime}, nil
}

// Get implements Driver
func (d *S3Driver) Get(ctx context.Context, p string) ([]byte, error) {
	key, err := d.key("get", p)
	if err != nil {
		return nil, err
	}
	ctx, span := d.startSpan(ctx, "GetObject", key)
	defer span.End()

	out, err := d.clients.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fail(span, newError(ErrNotFound, "get", d.name, p, err))
		}
		return nil, fail(span, newError(ErrRead, "get", d.name, p, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fail(span, newError(ErrRead, "get", d.name, p, err))
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))
	span.SetStatus(codes.Ok, "")
	return data, nil
}

// Delete implements Driver. A missing object is not an error.
func (d *S3Driver) Delete(ctx context.Context, p string) error {
	key, err := d.key("delete", p)
	if err != nil {
		return err
	}
	ctx, span := d.startSpan(ctx, "DeleteObject", key)
	defer span.End()

	_, err = d.clients.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fail(span, newError(ErrWrite, "delete", d.name, p, err))
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Exists implements Driver
func (d *S3Driver) Exists(ctx context.Context, p string) (bool, error) {
	key, err := d.key("exists", p)
	if err != nil {
		return false, err
	}
	ctx, span := d.startSpan(ctx, "HeadObject", key)
	defer span.End()

	_, err = d.clients.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fail(span, newError(ErrRead, "exists", d.name, p, err))
	}
	return true, nil
}

// URL implements Driver. A configured public base URL wins; otherwise the
// bucket URL is derived from the endpoint and path style, or presigned for
// providers that never serve objects from their API endpoint.
func (d *S3Driver) URL(ctx context.Context, p string) (string, error) {
	key, err := d.key("url", p)
	if err != nil {
		return "", err
	}
	if d.cfg.URL != "" {
		return joinURL(d.cfg.URL, key), nil
	}
	if d.profile.signWhenNoURL {
		return d.SignedURL(ctx, p, DefaultSignedURLTTL)
	}
	return d.bucketURL(key)
}

func (d *S3Driver) bucketURL(key string) (string, error) {
	if d.cfg.Endpoint == "" {
		if d.cfg.UsePathStyleEndpoint {
			return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", d.cfg.Region, d.cfg.Bucket, escapeKey(key)), nil
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", d.cfg.Bucket, d.cfg.Region, escapeKey(key)), nil
	}

	endpoint, err := url.Parse(d.cfg.Endpoint)
	if err != nil || endpoint.Host == "" {
		return "", newError(ErrInvalidConfig, "url", d.name, key, fmt.Errorf("invalid endpoint %q", d.cfg.Endpoint))
	}
	if d.cfg.UsePathStyleEndpoint {
		return joinURL(endpoint.String(), d.cfg.Bucket+"/"+key), nil
	}
	endpoint.Host = d.cfg.Bucket + "." + endpoint.Host
	return joinURL(endpoint.String(), key), nil
}

// SignedURL implements Signer
func (d *S3Driver) SignedURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	key, err := d.key("sign", p)
	if err != nil {
		return "", err
	}
	req, err := d.clients.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", newError(ErrRead, "sign", d.name, p, err)
	}
	return req.URL, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// isNotFound recognises missing objects by API error code, and by HTTP status
// for HEAD responses which carry no body to decode
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
