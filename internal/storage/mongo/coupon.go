package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by MongoDB.
type CouponRepository struct {
	coupons *mongo.Collection
	shops   *mongo.Collection
}

// NewCouponRepository returns a CouponRepository over the store's database.
func NewCouponRepository(s *Store) *CouponRepository {
	return &CouponRepository{
		coupons: s.db.Collection(colCoupons),
		shops:   s.db.Collection(colShops),
	}
}

// FindByShopIDs returns every coupon of the given shops in one aggregation.
func (r *CouponRepository) FindByShopIDs(ctx context.Context, shopIDs []string) ([]coupon.Coupon, error) {
	if len(shopIDs) == 0 {
		return nil, nil
	}
	coupons, err := r.aggregate(ctx, bson.M{"shopId": bson.M{"$in": shopIDs}}, 0)
	if err != nil {
		return nil, fmt.Errorf("finding coupons by shops: %w", err)
	}
	return coupons, nil
}

// Create inserts a new coupon after checking that its shop exists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	if err := r.requireShop(ctx, c.ShopID); err != nil {
		return err
	}
	m, err := toCouponModel(c)
	if err != nil {
		return err
	}
	if _, err := r.coupons.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrDuplicateName
		}
		return fmt.Errorf("creating coupon %q: %w", c.ID, err)
	}
	return nil
}

// Upsert inserts a coupon or updates the amounts of the shop's coupon with
// the same name.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	if err := r.requireShop(ctx, c.ShopID); err != nil {
		return err
	}
	m, err := toCouponModel(&c)
	if err != nil {
		return err
	}
	_, err = r.coupons.UpdateOne(ctx,
		bson.M{"shopId": m.ShopID, "name": m.Name},
		bson.M{
			"$set": bson.M{
				"value":     m.Value,
				"minAmount": m.MinAmount,
				"maxAmount": m.MaxAmount,
			},
			"$setOnInsert": bson.M{"_id": m.ID, "createdAt": m.CreatedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %s/%s: %w", c.ShopID, c.Name, err)
	}
	return nil
}

// GetByID returns a coupon by its identifier.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// ListByShop returns all coupons of a shop ordered by creation time.
func (r *CouponRepository) ListByShop(ctx context.Context, shopID string) ([]coupon.Coupon, error) {
	coupons, err := r.aggregate(ctx, bson.M{"shopId": shopID}, 0)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of shop %q: %w", shopID, err)
	}
	return coupons, nil
}

// FindByName returns the oldest coupon with the given name.
func (r *CouponRepository) FindByName(ctx context.Context, name string) (*coupon.Coupon, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

// Delete removes a coupon. It returns coupon.ErrNotFound when nothing was deleted.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coupons.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) requireShop(ctx context.Context, shopID string) error {
	n, err := r.shops.CountDocuments(ctx, bson.M{"_id": shopID}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("checking shop %q: %w", shopID, err)
	}
	if n == 0 {
		return shop.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) findOne(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	coupons, err := r.aggregate(ctx, filter, 1)
	if err != nil {
		return nil, fmt.Errorf("querying coupon: %w", err)
	}
	if len(coupons) == 0 {
		return nil, coupon.ErrNotFound
	}
	return &coupons[0], nil
}

// aggregate matches coupons, orders them by (createdAt, _id) and joins the
// owning shop. A positive limit truncates the result.
func (r *CouponRepository) aggregate(ctx context.Context, match bson.M, limit int64) ([]coupon.Coupon, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: colShops},
		{Key: "localField", Value: "shopId"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "shop"},
	}}})

	cursor, err := r.coupons.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []couponView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, fmt.Errorf("decoding coupons: %w", err)
	}

	out := make([]coupon.Coupon, 0, len(views))
	for i := range views {
		c, err := fromCouponView(&views[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
