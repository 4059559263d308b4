package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/storage"
)

type catalogJSON struct {
	Shops   []shopJSON   `json:"shops"`
	Coupons []couponJSON `json:"coupons"`
}

type shopJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type couponJSON struct {
	ShopID    string              `json:"shopId"`
	Name      string              `json:"name"`
	Value     decimal.Decimal     `json:"value"`
	MinAmount decimal.NullDecimal `json:"minAmount"`
	MaxAmount decimal.NullDecimal `json:"maxAmount"`
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		cfg          storage.Config
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&cfg.Driver, "driver", storage.DriverPostgres, "catalog backend: postgres or mongo")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&cfg.MongoDatabase, "mongo-database", "bazaar", "MongoDB database name")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or BAZAAR_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or BAZAAR_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	envDefault(&cfg.DatabaseURL, "DATABASE_URL")
	envDefault(&cfg.MongoURI, "MONGO_URI")
	envDefault(&apiKey, "BAZAAR_SEED_API_KEY")
	envDefault(&apiKeyPepper, "BAZAAR_API_KEY_PEPPER")
	if apiKey == "" {
		lg.Error("API key is required: set --api-key or BAZAAR_SEED_API_KEY")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg, catalogFile, apiKey, apiKeyPepper); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		return 1
	}
	lg.Info("Seed completed successfully")
	return 0
}

func envDefault(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

func run(ctx context.Context, lg *zap.Logger, cfg storage.Config, catalogFile, apiKey, pepper string) error {
	catalog, err := loadCatalog(catalogFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to storage", zap.String("driver", cfg.Driver))
	backend, err := storage.Open(ctx, lg, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer func() { _ = backend.Close(context.Background()) }()

	if err := seedShops(ctx, lg, backend.Shops, catalog.Shops); err != nil {
		return errors.Wrap(err, "seed shops")
	}
	if err := seedCoupons(ctx, lg, backend.Coupons, catalog.Coupons, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKey(ctx, lg, backend.APIKeys, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

// loadCatalog reads and validates the catalog file.
func loadCatalog(path string) (*catalogJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	known := make(map[string]struct{}, len(catalog.Shops))
	for _, s := range catalog.Shops {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
			return nil, errors.Errorf("shop %q: id and name are required", s.ID)
		}
		known[s.ID] = struct{}{}
	}
	for _, c := range catalog.Coupons {
		if err := c.request().Validate(); err != nil {
			return nil, errors.Wrapf(err, "coupon %s/%s", c.ShopID, c.Name)
		}
		if _, ok := known[c.ShopID]; !ok {
			return nil, errors.Errorf("coupon %s/%s: unknown shop", c.ShopID, c.Name)
		}
	}
	return &catalog, nil
}

func (c couponJSON) request() coupon.CreateRequest {
	return coupon.CreateRequest{
		ShopID:    strings.TrimSpace(c.ShopID),
		Name:      strings.TrimSpace(c.Name),
		Value:     c.Value,
		MinAmount: c.MinAmount,
		MaxAmount: c.MaxAmount,
	}
}

func seedShops(ctx context.Context, lg *zap.Logger, shops storage.ShopStore, items []shopJSON) error {
	for _, s := range items {
		if err := shops.Upsert(ctx, shop.Shop{ID: s.ID, Name: s.Name}); err != nil {
			return errors.Wrapf(err, "upsert shop %s", s.ID)
		}
		lg.Info("Upserted shop", zap.String("id", s.ID), zap.String("name", s.Name))
	}
	return nil
}

func seedCoupons(ctx context.Context, lg *zap.Logger, coupons storage.CouponStore, items []couponJSON, now time.Time) error {
	for i, item := range items {
		req := item.request()
		// Offsets keep catalog order stable across backends.
		c := coupon.Coupon{
			ID:        uuid.NewString(),
			ShopID:    req.ShopID,
			Name:      req.Name,
			Value:     req.Value,
			MinAmount: req.MinAmount,
			MaxAmount: req.MaxAmount,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		if err := coupons.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s/%s", c.ShopID, c.Name)
		}
		lg.Info("Upserted coupon", zap.String("shop_id", c.ShopID), zap.String("name", c.Name))
	}
	return nil
}

func seedAPIKey(ctx context.Context, lg *zap.Logger, keys storage.APIKeyStore, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "default",
		KeyHash: handler.HashKey(apiKey, []byte(pepper)),
		Name:    "Default shop owner key",
		Scopes:  []string{auth.ScopeCouponsWrite},
	}
	if err := keys.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}
	lg.Info("Upserted API key", zap.String("id", info.ID), zap.String("name", info.Name))
	return nil
}
