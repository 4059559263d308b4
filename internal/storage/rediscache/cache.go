// Package rediscache caches per-shop coupon lists in Redis in front of a
// coupon.Repository.
package rediscache

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

// DefaultTTL is used when Options.TTL is not positive.
const DefaultTTL = 5 * time.Minute

// Options configures a Repository.
type Options struct {
	TTL    time.Duration
	Prefix string
}

var _ coupon.Repository = (*Repository)(nil)

// Repository decorates a coupon.Repository with a read-through cache of
// each shop's coupon list. Writes go to the backend and bump the affected
// shop's version.
//
// Entries are keyed by shop and version. A reader resolves the version
// before loading from the backend and writes under that version, so a load
// that races with a write lands on a key no later reader asks for.
type Repository struct {
	backend coupon.Repository
	client  redis.UniversalClient
	ttl     time.Duration
	prefix  string
}

// NewClient parses a redis:// URL and checks connectivity.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// New wraps backend with a cache stored in client.
func New(client redis.UniversalClient, backend coupon.Repository, opts Options) *Repository {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Repository{
		backend: backend,
		client:  client,
		ttl:     opts.TTL,
		prefix:  opts.Prefix,
	}
}

func (r *Repository) shopKey(shopID string, version int64) string {
	return r.prefix + "shop:" + shopID + ":v" + strconv.FormatInt(version, 10)
}

func (r *Repository) versionKey(shopID string) string {
	return r.prefix + "shopver:" + shopID
}

// versions reads the current version of each shop. Shops never written to
// are at version 0.
func (r *Repository) versions(ctx context.Context, shopIDs []string) ([]int64, error) {
	keys := make([]string, len(shopIDs))
	for i, id := range shopIDs {
		keys[i] = r.versionKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(shopIDs))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse version of shop %s", shopIDs[i])
		}
		out[i] = n
	}
	return out, nil
}

// FindByShopIDs serves cached shops from Redis and loads the rest from the
// backend in a single call. Redis failures fall back to the backend.
func (r *Repository) FindByShopIDs(ctx context.Context, shopIDs []string) ([]coupon.Coupon, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	lg := zctx.From(ctx)

	versions, err := r.versions(ctx, shopIDs)
	if err != nil {
		lg.Warn("Coupon cache read failed", zap.Error(err))
		return r.backend.FindByShopIDs(ctx, shopIDs)
	}
	keys := make([]string, len(shopIDs))
	keyOf := make(map[string]string, len(shopIDs))
	for i, id := range shopIDs {
		keys[i] = r.shopKey(id, versions[i])
		keyOf[id] = keys[i]
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		lg.Warn("Coupon cache read failed", zap.Error(err))
		return r.backend.FindByShopIDs(ctx, shopIDs)
	}

	hits, misses := splitCached(lg, shopIDs, vals)
	if len(misses) == 0 {
		return sortCatalog(hits), nil
	}

	loaded, err := r.backend.FindByShopIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	r.store(ctx, misses, keyOf, loaded)

	return sortCatalog(append(hits, loaded...)), nil
}

// store writes the loaded coupons back per shop under the keys resolved
// before the load. Shops without coupons are stored as empty lists so they
// count as hits next time.
func (r *Repository) store(ctx context.Context, shopIDs []string, keyOf map[string]string, loaded []coupon.Coupon) {
	byShop := make(map[string][]coupon.Coupon, len(shopIDs))
	for _, c := range loaded {
		byShop[c.ShopID] = append(byShop[c.ShopID], c)
	}

	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range shopIDs {
			p.Set(ctx, keyOf[id], encodeCoupons(byShop[id]), r.ttl)
		}
		return nil
	})
	if err != nil {
		zctx.From(ctx).Warn("Coupon cache write failed", zap.Error(err))
	}
}

// invalidate moves the shop to a new version. Entries under the old version
// are never read again and expire with their TTL.
func (r *Repository) invalidate(ctx context.Context, shopID string) {
	if err := r.client.Incr(ctx, r.versionKey(shopID)).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache invalidation failed",
			zap.String("shop_id", shopID),
			zap.Error(err),
		)
	}
}

// Create stores the coupon in the backend and bumps its shop's cache version.
func (r *Repository) Create(ctx context.Context, c *coupon.Coupon) error {
	if err := r.backend.Create(ctx, c); err != nil {
		return err
	}
	r.invalidate(ctx, c.ShopID)
	return nil
}

// Delete removes the coupon from the backend and bumps its shop's cache version.
func (r *Repository) Delete(ctx context.Context, id string) error {
	c, err := r.backend.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.backend.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, c.ShopID)
	return nil
}

// GetByID reads through to the backend.
func (r *Repository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.backend.GetByID(ctx, id)
}

// ListByShop is served from the shop's cache entry.
func (r *Repository) ListByShop(ctx context.Context, shopID string) ([]coupon.Coupon, error) {
	return r.FindByShopIDs(ctx, []string{shopID})
}

// FindByName reads through to the backend.
func (r *Repository) FindByName(ctx context.Context, name string) (*coupon.Coupon, error) {
	return r.backend.FindByName(ctx, name)
}

// splitCached decodes MGET results. Missing or undecodable entries are
// reported as misses.
func splitCached(lg *zap.Logger, shopIDs []string, vals []any) (hits []coupon.Coupon, misses []string) {
	for i, id := range shopIDs {
		raw, ok := vals[i].(string)
		if !ok {
			misses = append(misses, id)
			continue
		}
		coupons, err := decodeCoupons([]byte(raw))
		if err != nil {
			lg.Warn("Discarding corrupt cache entry", zap.String("shop_id", id), zap.Error(err))
			misses = append(misses, id)
			continue
		}
		hits = append(hits, coupons...)
	}
	return hits, misses
}

// sortCatalog restores catalog order: creation time, then ID.
func sortCatalog(coupons []coupon.Coupon) []coupon.Coupon {
	slices.SortStableFunc(coupons, func(a, b coupon.Coupon) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return coupons
}
