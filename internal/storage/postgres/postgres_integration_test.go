//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bazaar",
				"POSTGRES_PASSWORD": "bazaar",
				"POSTGRES_DB":       "bazaar",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://bazaar:bazaar@%s:%s/bazaar?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	return m.Run()
}

func seedShops(t *testing.T, shops ...shop.Shop) {
	t.Helper()
	repo := NewShopRepository(testPool)
	for _, s := range shops {
		require.NoError(t, repo.Upsert(context.Background(), s))
	}
}

func TestCouponRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	seedShops(t, shop.Shop{ID: "pg-s1", Name: "Corner Store"}, shop.Shop{ID: "pg-s2", Name: "Book Nook"})
	repo := NewCouponRepository(testPool)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := &coupon.Coupon{
		ID: "pg-c1", ShopID: "pg-s1", Name: "TEN", Value: decimal.NewFromInt(10),
		MinAmount: decimal.NewNullDecimal(decimal.NewFromInt(150)), CreatedAt: base,
	}
	c2 := &coupon.Coupon{
		ID: "pg-c2", ShopID: "pg-s2", Name: "TEN", Value: decimal.NewFromInt(5),
		MaxAmount: decimal.NewNullDecimal(decimal.RequireFromString("2.50")), CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, repo.Create(ctx, c1))
	require.NoError(t, repo.Create(ctx, c2))

	t.Run("duplicate name within shop", func(t *testing.T) {
		dup := *c1
		dup.ID = "pg-c3"
		require.ErrorIs(t, repo.Create(ctx, &dup), coupon.ErrDuplicateName)
	})

	t.Run("unknown shop", func(t *testing.T) {
		orphan := &coupon.Coupon{ID: "pg-c4", ShopID: "nope", Name: "X", Value: decimal.NewFromInt(1), CreatedAt: base}
		require.ErrorIs(t, repo.Create(ctx, orphan), shop.ErrNotFound)
	})

	t.Run("find by shop ids resolves names", func(t *testing.T) {
		got, err := repo.FindByShopIDs(ctx, []string{"pg-s1", "pg-s2"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "pg-c1", got[0].ID)
		assert.Equal(t, "Corner Store", got[0].ShopName)
		assert.True(t, got[0].MinAmount.Valid)
		assert.False(t, got[0].MaxAmount.Valid)
		assert.Equal(t, "Book Nook", got[1].ShopName)
		assert.True(t, decimal.RequireFromString("2.5").Equal(got[1].MaxAmount.Decimal))
	})

	t.Run("find by name returns oldest", func(t *testing.T) {
		got, err := repo.FindByName(ctx, "TEN")
		require.NoError(t, err)
		assert.Equal(t, "pg-c1", got.ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "pg-c2"))
		require.ErrorIs(t, repo.Delete(ctx, "pg-c2"), coupon.ErrNotFound)
		_, err := repo.GetByID(ctx, "pg-c2")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})
}

func TestShopRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	seedShops(t, shop.Shop{ID: "pg-s9", Name: "Garden"}, shop.Shop{ID: "pg-s9", Name: "Garden Centre"})
	repo := NewShopRepository(testPool)

	got, err := repo.GetByID(ctx, "pg-s9")
	require.NoError(t, err)
	assert.Equal(t, "Garden Centre", got.Name)

	_, err = repo.GetByID(ctx, "nope")
	require.ErrorIs(t, err, shop.ErrNotFound)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)

	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID: "k1", KeyHash: "abc123", Name: "owner", Scopes: []string{auth.ScopeCouponsWrite},
	}))

	info, err := repo.FindByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeCouponsWrite))

	_, err = repo.FindByHash(ctx, "missing")
	require.Error(t, err)
}
