package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"github.com/creatorhub/creatorhub/pkg/observability"
)

const (
	generationKey    = "creatorhub:storage:active:gen"
	activeKeyPattern = "creatorhub:storage:active:v%d"
)

// CachedSettings is a SettingRepository that keeps the active setting in
// Redis.
//
// Cache entries are keyed by a generation number that every successful write
// bumps after its transaction commits. A load racing with a switch can only
// fill the entry of a generation nobody reads any more, so the next call after
// a switch always reaches the database. Redis failures degrade to direct
// database reads.
type CachedSettings struct {
	*SettingStore
	redis   *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCachedSettings wraps store. A nil client disables the Redis layer but
// keeps concurrent loads coalesced.
func NewCachedSettings(store *SettingStore, client *redis.Client, ttl time.Duration, metrics *observability.Metrics, logger *observability.Logger) *CachedSettings {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedSettings{
		SettingStore: store,
		redis:        client,
		ttl:          ttl,
		metrics:      metrics,
		logger:       logger,
	}
}

// cachedSetting is the Redis representation; the secret stays sealed
type cachedSetting struct {
	Setting StorageSetting `json:"setting"`
	Secret  string         `json:"secret"`
}

// MarshalJSON keeps the sealed secret, unlike StorageSetting's client view
func (c cachedSetting) MarshalJSON() ([]byte, error) {
	type plain StorageSetting
	return json.Marshal(struct {
		Setting plain  `json:"setting"`
		Secret  string `json:"secret"`
	}{Setting: plain(c.Setting), Secret: c.Secret})
}

// GetActive returns the active setting, from Redis when the current
// generation is cached
func (c *CachedSettings) GetActive(ctx context.Context) (*StorageSetting, error) {
	if c.redis == nil {
		return c.load(ctx)
	}

	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("setting cache unavailable, reading database")
		return c.load(ctx)
	}

	if st, ok := c.fromCache(ctx, gen); ok {
		c.metrics.RecordSettingCache(true)
		return st, nil
	}
	c.metrics.RecordSettingCache(false)

	v, err, _ := c.group.Do(strconv.FormatInt(gen, 10), func() (interface{}, error) {
		st, err := c.SettingStore.GetActive(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, gen, st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*StorageSetting)
	return &cp, nil
}

func (c *CachedSettings) load(ctx context.Context) (*StorageSetting, error) {
	v, err, _ := c.group.Do("db", func() (interface{}, error) {
		return c.SettingStore.GetActive(ctx)
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*StorageSetting)
	return &cp, nil
}

func (c *CachedSettings) generation(ctx context.Context) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *CachedSettings) fromCache(ctx context.Context, gen int64) (*StorageSetting, bool) {
	data, err := c.redis.Get(ctx, fmt.Sprintf(activeKeyPattern, gen)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("failed to read cached setting")
		}
		return nil, false
	}

	var cached cachedSetting
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.WithError(err).Warn("discarding corrupt cached setting")
		c.redis.Del(ctx, fmt.Sprintf(activeKeyPattern, gen))
		return nil, false
	}
	secret, err := c.box.Open(cached.Secret)
	if err != nil {
		c.logger.WithError(err).Warn("failed to open cached secret")
		return nil, false
	}
	cached.Setting.Secret = secret
	return &cached.Setting, true
}

func (c *CachedSettings) store(ctx context.Context, gen int64, st *StorageSetting) {
	sealed, err := c.box.Seal(st.Secret)
	if err != nil {
		c.logger.WithError(err).Warn("failed to seal secret for cache")
		return
	}
	data, err := json.Marshal(cachedSetting{Setting: *st, Secret: sealed})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, fmt.Sprintf(activeKeyPattern, gen), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("failed to cache active setting")
	}
}

// Invalidate moves to a new generation so the next read reloads
func (c *CachedSettings) Invalidate(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate setting cache: %w", err)
	}
	return nil
}

func (c *CachedSettings) afterWrite(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	if err := c.Invalidate(ctx); err != nil {
		// the write is committed; readers see it once the cached entry expires
		c.logger.WithError(err).Error("storage setting changed but cache invalidation failed")
	}
	return nil
}

// Create implements SettingRepository
func (c *CachedSettings) Create(ctx context.Context, st *StorageSetting) error {
	return c.afterWrite(ctx, c.SettingStore.Create(ctx, st))
}

// Update implements SettingRepository
func (c *CachedSettings) Update(ctx context.Context, id int64, patch *ConfigPatch, check func(Config) error) (*StorageSetting, error) {
	st, err := c.SettingStore.Update(ctx, id, patch, check)
	return st, c.afterWrite(ctx, err)
}

// Activate implements SettingRepository
func (c *CachedSettings) Activate(ctx context.Context, id int64) error {
	return c.afterWrite(ctx, c.SettingStore.Activate(ctx, id))
}

// Deactivate implements SettingRepository
func (c *CachedSettings) Deactivate(ctx context.Context, id int64) error {
	return c.afterWrite(ctx, c.SettingStore.Deactivate(ctx, id))
}

// Delete implements SettingRepository
func (c *CachedSettings) Delete(ctx context.Context, id int64) error {
	return c.afterWrite(ctx, c.SettingStore.Delete(ctx, id))
}
