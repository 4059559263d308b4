package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

const couponColumns = `c.id, c.shop_id, COALESCE(s.name, ''), c.name, c.value,
		c.min_amount, c.max_amount, c.created_at`

const (
	findCouponsByShopIDsSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN shops s ON s.id = c.shop_id
		WHERE c.shop_id = ANY($1)
		ORDER BY c.created_at, c.id`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN shops s ON s.id = c.shop_id
		WHERE c.id = $1`

	listCouponsByShopSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN shops s ON s.id = c.shop_id
		WHERE c.shop_id = $1
		ORDER BY c.created_at, c.id`

	findCouponByNameSQL = `SELECT ` + couponColumns + `
		FROM coupons c LEFT JOIN shops s ON s.id = c.shop_id
		WHERE c.name = $1
		ORDER BY c.created_at, c.id
		LIMIT 1`

	createCouponSQL = `INSERT INTO coupons (id, shop_id, name, value, min_amount, max_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	upsertCouponSQL = `INSERT INTO coupons (id, shop_id, name, value, min_amount, max_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (shop_id, name) DO UPDATE SET value = EXCLUDED.value,
			min_amount = EXCLUDED.min_amount, max_amount = EXCLUDED.max_amount`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByShopIDs returns every coupon of the given shops in one query.
func (r *CouponRepository) FindByShopIDs(ctx context.Context, shopIDs []string) ([]coupon.Coupon, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, findCouponsByShopIDsSQL, shopIDs)
	if err != nil {
		return nil, fmt.Errorf("finding coupons by shops: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.ShopID, c.Name, c.Value, c.MinAmount, c.MaxAmount, c.CreatedAt,
	)
	switch pgErrorCode(err) {
	case "":
	case codeUniqueViolation:
		return coupon.ErrDuplicateName
	case codeForeignKeyViolation:
		return shop.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.ID, err)
	}
	return nil
}

// Upsert inserts a coupon or updates the amounts of the shop's coupon with
// the same name.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.ID, c.ShopID, c.Name, c.Value, c.MinAmount, c.MaxAmount, c.CreatedAt,
	)
	if pgErrorCode(err) == codeForeignKeyViolation {
		return shop.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("upserting coupon %s/%s: %w", c.ShopID, c.Name, err)
	}
	return nil
}

// GetByID returns a coupon by its identifier.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.collectOne(ctx, getCouponByIDSQL, id)
}

// ListByShop returns all coupons of a shop ordered by creation time.
func (r *CouponRepository) ListByShop(ctx context.Context, shopID string) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsByShopSQL, shopID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of shop %q: %w", shopID, err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// FindByName returns the oldest coupon with the given name.
func (r *CouponRepository) FindByName(ctx context.Context, name string) (*coupon.Coupon, error) {
	return r.collectOne(ctx, findCouponByNameSQL, name)
}

// Delete removes a coupon. It returns coupon.ErrNotFound when nothing was deleted.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) collectOne(ctx context.Context, query string, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("querying coupon %q: %w", arg, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.ShopID, &c.ShopName, &c.Name, &c.Value,
		&c.MinAmount, &c.MaxAmount, &c.CreatedAt,
	)
	return c, err
}
