package storage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

// ClientCache keeps SDK clients keyed by config fingerprint. Losing an entry
// only costs a rebuild; a credential rotation changes the fingerprint, so a
// stale client is never picked up for a new config.
type ClientCache struct {
	cache   *lru.LRU[string, *s3Clients]
	group   singleflight.Group
	build   func(ctx context.Context, cfg Config) (*s3Clients, error)
	metrics *observability.Metrics
}

// NewClientCache creates a cache holding up to size client sets for ttl.
// size <= 0 disables caching.
func NewClientCache(size int, ttl time.Duration, metrics *observability.Metrics) *ClientCache {
	c := &ClientCache{build: newS3Clients, metrics: metrics}
	if size > 0 {
		c.cache = lru.NewLRU[string, *s3Clients](size, nil, ttl)
	}
	return c
}

// get returns the clients for cfg, building them on a miss
func (c *ClientCache) get(ctx context.Context, cfg Config) (*s3Clients, error) {
	if c == nil {
		return newS3Clients(ctx, cfg)
	}
	if c.cache == nil {
		return c.build(ctx, cfg)
	}

	fp := cfg.Fingerprint()
	if clients, ok := c.cache.Get(fp); ok {
		return clients, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		if clients, ok := c.cache.Get(fp); ok {
			return clients, nil
		}
		clients, err := c.build(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.cache.Add(fp, clients)
		if c.metrics != nil {
			c.metrics.StorageClientCacheSize.Set(float64(c.cache.Len()))
		}
		return clients, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*s3Clients), nil
}

// Len returns the number of cached client sets
func (c *ClientCache) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// Purge drops every cached client
func (c *ClientCache) Purge() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Purge()
	if c.metrics != nil {
		c.metrics.StorageClientCacheSize.Set(0)
	}
}
