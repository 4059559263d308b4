package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xenking/bazaar/internal/domain/shop"
)

var _ shop.Repository = (*ShopRepository)(nil)

// ShopRepository implements shop.Repository backed by MongoDB.
type ShopRepository struct {
	col *mongo.Collection
}

// NewShopRepository returns a ShopRepository over the store's database.
func NewShopRepository(s *Store) *ShopRepository {
	return &ShopRepository{col: s.db.Collection(colShops)}
}

// GetByID returns a shop by its identifier.
func (r *ShopRepository) GetByID(ctx context.Context, id string) (*shop.Shop, error) {
	var m shopModel
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, shop.ErrNotFound
		}
		return nil, fmt.Errorf("getting shop %q: %w", id, err)
	}
	return fromShopModel(&m), nil
}

// Upsert inserts a shop or renames an existing one.
func (r *ShopRepository) Upsert(ctx context.Context, s shop.Shop) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": s.ID},
		bson.M{"$set": bson.M{"name": s.Name}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting shop %q: %w", s.ID, err)
	}
	return nil
}
