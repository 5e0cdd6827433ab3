package storage

import (
	"context"
	"time"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

// Instrumented decorates a driver with the operation timeout and metrics.
// Every driver returned by Factory is wrapped in one.
type Instrumented struct {
	next    Driver
	metrics *observability.Metrics
	timeout time.Duration
}

// Instrument wraps d. timeout <= 0 leaves deadlines to the caller's context.
func Instrument(d Driver, metrics *observability.Metrics, timeout time.Duration) *Instrumented {
	return &Instrumented{next: d, metrics: metrics, timeout: timeout}
}

// Unwrap returns the decorated driver
func (i *Instrumented) Unwrap() Driver { return i.next }

// Name implements Driver
func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, i.timeout)
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	errorType := ""
	if err != nil {
		errorType = "unknown"
		if k := KindOf(err); k != nil {
			errorType = k.Name()
		}
	}
	i.metrics.RecordStorageOperation(op, i.next.Name(), time.Since(start), errorType)
}

// Put implements Driver
func (i *Instrumented) Put(ctx context.Context, path string, contents []byte, visibility Visibility) (fd *FileDescriptor, err error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() { i.observe("put", start, err) }()

	fd, err = i.next.Put(ctx, path, contents, visibility)
	if err == nil {
		i.metrics.RecordStorageBytes("write", i.next.Name(), len(contents))
	}
	return fd, err
}

// Get implements Driver
func (i *Instrumented) Get(ctx context.Context, path string) (data []byte, err error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() { i.observe("get", start, err) }()

	data, err = i.next.Get(ctx, path)
	if err == nil {
		i.metrics.RecordStorageBytes("read", i.next.Name(), len(data))
	}
	return data, err
}

// Delete implements Driver
func (i *Instrumented) Delete(ctx context.Context, path string) (err error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() { i.observe("delete", start, err) }()

	return i.next.Delete(ctx, path)
}

// Exists implements Driver
func (i *Instrumented) Exists(ctx context.Context, path string) (ok bool, err error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() { i.observe("exists", start, err) }()

	return i.next.Exists(ctx, path)
}

// URL implements Driver
func (i *Instrumented) URL(ctx context.Context, path string) (u string, err error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	defer func() { i.observe("url", start, err) }()

	return i.next.URL(ctx, path)
}
