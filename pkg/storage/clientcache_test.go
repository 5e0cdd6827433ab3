package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

func TestClientCache_CachesByFingerprint(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fake := newFakeS3()
	var builds int32
	c := NewClientCache(4, time.Minute, metrics)
	c.build = func(ctx context.Context, cfg Config) (*s3Clients, error) {
		atomic.AddInt32(&builds, 1)
		return fake.clients(), nil
	}

	cfg := Config{Driver: DriverAWSS3, Key: "k", Secret: "s", Region: "us-east-1"}
	first, err := c.get(context.Background(), cfg)
	require.NoError(t, err)
	second, err := c.get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builds)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageClientCacheSize))

	cfg.Secret = "rotated"
	_, err = c.get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.StorageClientCacheSize))
}

func TestClientCache_CoalescesConcurrentBuilds(t *testing.T) {
	var builds int32
	release := make(chan struct{})
	c := NewClientCache(4, time.Minute, nil)
	c.build = func(ctx context.Context, cfg Config) (*s3Clients, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return newFakeS3().clients(), nil
	}

	cfg := Config{Driver: DriverAWSS3, Region: "us-east-1"}
	var wg sync.WaitGroup
	results := make([]*s3Clients, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cl, err := c.get(context.Background(), cfg)
			assert.NoError(t, err)
			results[i] = cl
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.NotNil(t, r)
	}
	// callers arriving after the build finished hit the cache, so at most
	// one build happens no matter how the goroutines interleave
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestClientCache_Disabled(t *testing.T) {
	var builds int
	c := NewClientCache(0, time.Minute, nil)
	c.build = func(ctx context.Context, cfg Config) (*s3Clients, error) {
		builds++
		return newFakeS3().clients(), nil
	}

	cfg := Config{Driver: DriverAWSS3, Region: "us-east-1"}
	for i := 0; i < 3; i++ {
		_, err := c.get(context.Background(), cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, builds)
	assert.Zero(t, c.Len())
	c.Purge()
}
