// Package storage opens the configured catalog backend.
package storage

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
	"github.com/xenking/bazaar/internal/storage/mongo"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config selects and configures the catalog backend.
type Config struct {
	Driver        string `default:"postgres" usage:"Catalog backend: postgres or mongo"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (BAZAAR_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI (BAZAAR_STORAGE_MONGO_URI or MONGO_URI)" flag:"mongo-uri"`
	MongoDatabase string `default:"bazaar" usage:"MongoDB database name" flag:"mongo-database"`
}

// Validate checks that the selected driver has its connection string.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set BAZAAR_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("mongo URI is required: set BAZAAR_STORAGE_MONGO_URI or MONGO_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Driver)
	}
	return nil
}

// CouponStore is a coupon repository that also accepts idempotent writes
// keyed by (shop, name).
type CouponStore interface {
	coupon.Repository
	Upsert(ctx context.Context, c coupon.Coupon) error
}

// ShopStore is a shop repository with upserts.
type ShopStore interface {
	shop.Repository
	Upsert(ctx context.Context, s shop.Shop) error
}

// APIKeyStore is an API key repository with upserts.
type APIKeyStore interface {
	auth.Repository
	Upsert(ctx context.Context, info auth.APIKeyInfo) error
}

// Backend bundles the repositories of one opened backend.
type Backend struct {
	Coupons CouponStore
	Shops   ShopStore
	APIKeys APIKeyStore

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping checks backend connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Close releases backend connections.
func (b *Backend) Close(ctx context.Context) error {
	return b.close(ctx)
}

// Open connects to the backend selected by cfg and applies its schema.
func Open(ctx context.Context, lg *zap.Logger, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverMongo:
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		lg.Info("Applying mongo indexes", zap.String("database", cfg.MongoDatabase))
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, errors.Wrap(err, "migrate mongo")
		}
		return &Backend{
			Coupons: mongo.NewCouponRepository(store),
			Shops:   mongo.NewShopRepository(store),
			APIKeys: mongo.NewAPIKeyRepository(store),
			ping:    store.Ping,
			close:   store.Close,
		}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		lg.Info("Running postgres migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &Backend{
			Coupons: postgres.NewCouponRepository(pool),
			Shops:   postgres.NewShopRepository(pool),
			APIKeys: postgres.NewAPIKeyRepository(pool),
			ping:    pool.Ping,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	}
}
