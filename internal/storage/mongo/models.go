package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

type shopModel struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type couponModel struct {
	ID        string           `bson:"_id"`
	ShopID    string           `bson:"shopId"`
	Name      string           `bson:"name"`
	Value     bson.Decimal128  `bson:"value"`
	MinAmount *bson.Decimal128 `bson:"minAmount,omitempty"`
	MaxAmount *bson.Decimal128 `bson:"maxAmount,omitempty"`
	CreatedAt time.Time        `bson:"createdAt"`
}

// couponView is a coupon joined with its shop by $lookup.
type couponView struct {
	couponModel `bson:",inline"`

	Shop []shopModel `bson:"shop"`
}

type apiKeyModel struct {
	ID        string    `bson:"_id"`
	KeyHash   string    `bson:"keyHash"`
	Name      string    `bson:"name"`
	Scopes    []string  `bson:"scopes"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toCouponModel(c *coupon.Coupon) (*couponModel, error) {
	value, err := toDecimal128(c.Value)
	if err != nil {
		return nil, err
	}
	minAmount, err := toNullDecimal128(c.MinAmount)
	if err != nil {
		return nil, err
	}
	maxAmount, err := toNullDecimal128(c.MaxAmount)
	if err != nil {
		return nil, err
	}
	return &couponModel{
		ID:        c.ID,
		ShopID:    c.ShopID,
		Name:      c.Name,
		Value:     value,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		CreatedAt: c.CreatedAt.UTC(),
	}, nil
}

func fromCouponView(v *couponView) (coupon.Coupon, error) {
	c := coupon.Coupon{
		ID:        v.ID,
		ShopID:    v.ShopID,
		Name:      v.Name,
		CreatedAt: v.CreatedAt.UTC(),
	}
	if len(v.Shop) > 0 {
		c.ShopName = v.Shop[0].Name
	}

	var err error
	if c.Value, err = fromDecimal128(v.Value); err != nil {
		return coupon.Coupon{}, err
	}
	if c.MinAmount, err = fromNullDecimal128(v.MinAmount); err != nil {
		return coupon.Coupon{}, err
	}
	if c.MaxAmount, err = fromNullDecimal128(v.MaxAmount); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

func fromShopModel(m *shopModel) *shop.Shop {
	return &shop.Shop{ID: m.ID, Name: m.Name}
}

func fromAPIKeyModel(m *apiKeyModel) *auth.APIKeyInfo {
	return &auth.APIKeyInfo{
		ID:      m.ID,
		KeyHash: m.KeyHash,
		Name:    m.Name,
		Scopes:  m.Scopes,
	}
}
