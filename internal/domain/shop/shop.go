package shop

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a referenced shop does not exist.
var ErrNotFound = errors.New("shop not found")

// Shop is a vendor storefront that owns coupons.
type Shop struct {
	ID   string
	Name string
}

// Repository provides shop lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Shop, error)
}
