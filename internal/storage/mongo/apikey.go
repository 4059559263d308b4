package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xenking/bazaar/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by MongoDB.
type APIKeyRepository struct {
	col *mongo.Collection
}

// NewAPIKeyRepository returns an APIKeyRepository over the store's database.
func NewAPIKeyRepository(s *Store) *APIKeyRepository {
	return &APIKeyRepository{col: s.db.Collection(colAPIKeys)}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var m apiKeyModel
	err := r.col.FindOne(ctx, bson.M{"keyHash": hash, "active": true}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("api key not found: %w", err)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return fromAPIKeyModel(&m), nil
}

// Upsert stores an active API key.
func (r *APIKeyRepository) Upsert(ctx context.Context, info auth.APIKeyInfo) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": info.ID},
		bson.M{
			"$set": bson.M{
				"keyHash": info.KeyHash,
				"name":    info.Name,
				"scopes":  info.Scopes,
				"active":  true,
			},
			"$setOnInsert": bson.M{"createdAt": time.Now().UTC()},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", info.ID, err)
	}
	return nil
}
