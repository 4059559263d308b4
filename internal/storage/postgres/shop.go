package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/shop"
)

const (
	getShopByIDSQL = `SELECT id, name FROM shops WHERE id = $1`

	upsertShopSQL = `INSERT INTO shops (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
)

var _ shop.Repository = (*ShopRepository)(nil)

// ShopRepository implements shop.Repository backed by PostgreSQL.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// GetByID returns a shop by its identifier.
func (r *ShopRepository) GetByID(ctx context.Context, id string) (*shop.Shop, error) {
	var s shop.Shop
	err := r.pool.QueryRow(ctx, getShopByIDSQL, id).Scan(&s.ID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shop.ErrNotFound
		}
		return nil, fmt.Errorf("getting shop %q: %w", id, err)
	}
	return &s, nil
}

// Upsert inserts a shop or renames an existing one.
func (r *ShopRepository) Upsert(ctx context.Context, s shop.Shop) error {
	if _, err := r.pool.Exec(ctx, upsertShopSQL, s.ID, s.Name); err != nil {
		return fmt.Errorf("upserting shop %q: %w", s.ID, err)
	}
	return nil
}
