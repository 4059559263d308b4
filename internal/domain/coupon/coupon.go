package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a coupon does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateName is returned when a shop already has a coupon with the same name.
	ErrDuplicateName = errors.New("coupon name already exists for shop")
)

// ValidationError reports a coupon field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Coupon is a shop-scoped discount code. Value is a percentage; MinAmount and
// MaxAmount are optional spend constraints in currency units.
type Coupon struct {
	ID        string
	ShopID    string
	ShopName  string
	Name      string
	Value     decimal.Decimal
	MinAmount decimal.NullDecimal
	MaxAmount decimal.NullDecimal
	CreatedAt time.Time
}

// CartItem is one product line of a shopping cart.
type CartItem struct {
	ShopID        string
	Qty           int
	DiscountPrice decimal.Decimal
}

// EligibleCoupon is a coupon redeemable against the current cart together
// with the shop total it applies to and the resulting discount.
type EligibleCoupon struct {
	Coupon

	ApplicableAmount decimal.Decimal
	DiscountAmount   decimal.Decimal
}

// Catalog provides the scoped, read-only coupon lookup used by the Engine.
// Implementations return coupons ordered by creation time, then ID, with
// ShopName resolved.
type Catalog interface {
	FindByShopIDs(ctx context.Context, shopIDs []string) ([]Coupon, error)
}

// Repository provides coupon persistence for shop owners.
type Repository interface {
	Catalog

	Create(ctx context.Context, c *Coupon) error
	GetByID(ctx context.Context, id string) (*Coupon, error)
	ListByShop(ctx context.Context, shopID string) ([]Coupon, error)
	FindByName(ctx context.Context, name string) (*Coupon, error)
	Delete(ctx context.Context, id string) error
}
