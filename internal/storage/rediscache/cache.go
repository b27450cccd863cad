// Package rediscache wraps the catalog and settings stores with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cached keys; Redis failures degrade to primary reads.
package rediscache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
)

const keyPrefix = "store:"

func productKey(id int64) string { return keyPrefix + "product:" + strconv.FormatInt(id, 10) }

func productsKey() string { return keyPrefix + "products" }

func settingsKey() string { return keyPrefix + "settings" }

func load[T any](ctx context.Context, rdb redis.Cmdable, key string) (T, bool) {
	var v T
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Debug("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	return v, true
}

func store(ctx context.Context, rdb redis.Cmdable, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		zctx.From(ctx).Debug("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func invalidate(ctx context.Context, rdb redis.Cmdable, keys ...string) {
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Catalog caches product reads.
type Catalog struct {
	primary product.Repository
	rdb     redis.Cmdable
	ttl     time.Duration
}

var _ product.Repository = (*Catalog)(nil)

// NewCatalog wraps primary.
func NewCatalog(primary product.Repository, rdb redis.Cmdable, ttl time.Duration) *Catalog {
	return &Catalog{primary: primary, rdb: rdb, ttl: ttl}
}

func (c *Catalog) Get(ctx context.Context, id int64) (*product.Product, error) {
	if p, ok := load[product.Product](ctx, c.rdb, productKey(id)); ok {
		return &p, nil
	}
	p, err := c.primary.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	store(ctx, c.rdb, productKey(id), p, c.ttl)
	return p, nil
}

func (c *Catalog) List(ctx context.Context) ([]product.Product, error) {
	if ps, ok := load[[]product.Product](ctx, c.rdb, productsKey()); ok {
		return ps, nil
	}
	ps, err := c.primary.List(ctx)
	if err != nil {
		return nil, err
	}
	store(ctx, c.rdb, productsKey(), ps, c.ttl)
	return ps, nil
}

func (c *Catalog) Upsert(ctx context.Context, p *product.Product) error {
	if err := c.primary.Upsert(ctx, p); err != nil {
		return err
	}
	invalidate(ctx, c.rdb, productKey(p.ID), productsKey())
	return nil
}

// Settings caches the raw settings map.
type Settings struct {
	primary settings.Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

var (
	_ settings.Store       = (*Settings)(nil)
	_ settings.Invalidator = (*Settings)(nil)
)

// NewSettings wraps primary. Keep ttl short: it bounds how long a gate change
// can go unnoticed by other instances if an invalidation is lost.
func NewSettings(primary settings.Store, rdb redis.Cmdable, ttl time.Duration) *Settings {
	return &Settings{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *Settings) Values(ctx context.Context) (map[string]string, error) {
	if v, ok := load[map[string]string](ctx, s.rdb, settingsKey()); ok {
		return v, nil
	}
	v, err := s.primary.Values(ctx)
	if err != nil {
		return nil, err
	}
	store(ctx, s.rdb, settingsKey(), v, s.ttl)
	return v, nil
}

// Set writes through to primary and drops the cached map. Inside a
// transaction a concurrent reader can cache the old values again before the
// commit, so transactional writers also call Invalidate afterwards.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached settings map.
func (s *Settings) Invalidate(ctx context.Context) {
	invalidate(ctx, s.rdb, settingsKey())
}
