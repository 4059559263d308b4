package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/shop"
)

// CreateRequest holds the input for creating a coupon.
type CreateRequest struct {
	ShopID    string
	Name      string
	Value     decimal.Decimal
	MinAmount decimal.NullDecimal
	MaxAmount decimal.NullDecimal
}

// Service encapsulates shop-owner coupon management.
type Service struct {
	repo  Repository
	shops shop.Repository
	now   func() time.Time
}

// NewService creates a coupon Service backed by repo. Shops are resolved
// through shops before a coupon is written.
func NewService(repo Repository, shops shop.Repository) *Service {
	return &Service{repo: repo, shops: shops, now: time.Now}
}

// Create validates req and persists a new coupon. It returns a
// *ValidationError for bad input, shop.ErrNotFound for an unknown shop and
// ErrDuplicateName when the shop already has a coupon with that name.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Coupon, error) {
	req.ShopID = strings.TrimSpace(req.ShopID)
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	owner, err := s.shops.GetByID(ctx, req.ShopID)
	if err != nil {
		return nil, errors.Wrapf(err, "get shop %s", req.ShopID)
	}

	c := &Coupon{
		ID:        uuid.New().String(),
		ShopID:    owner.ID,
		ShopName:  owner.Name,
		Name:      req.Name,
		Value:     req.Value,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Get returns a coupon by ID.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get coupon %s", id)
	}
	return c, nil
}

// ListByShop returns every coupon of a shop in catalog order.
func (s *Service) ListByShop(ctx context.Context, shopID string) ([]Coupon, error) {
	coupons, err := s.repo.ListByShop(ctx, shopID)
	if err != nil {
		return nil, errors.Wrapf(err, "list coupons of shop %s", shopID)
	}
	return coupons, nil
}

// FindByName returns the oldest coupon with the given name across all shops.
func (s *Service) FindByName(ctx context.Context, name string) (*Coupon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	c, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", name)
	}
	return c, nil
}

// Delete removes a coupon by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete coupon %s", id)
	}
	return nil
}

// Validate checks the fields of req, returning a *ValidationError for the
// first bad one. Identifiers are expected to be trimmed.
func (req CreateRequest) Validate() error {
	switch {
	case req.ShopID == "":
		return &ValidationError{Field: "shopId", Reason: "required"}
	case req.Name == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case !req.Value.IsPositive() || req.Value.GreaterThan(hundred):
		return &ValidationError{Field: "value", Reason: "must be greater than 0 and at most 100"}
	case req.MinAmount.Valid && req.MinAmount.Decimal.IsNegative():
		return &ValidationError{Field: "minAmount", Reason: "must not be negative"}
	case req.MaxAmount.Valid && !req.MaxAmount.Decimal.IsPositive():
		return &ValidationError{Field: "maxAmount", Reason: "must be greater than 0"}
	}
	return nil
}
