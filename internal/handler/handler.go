// Package handler implements the coupon HTTP API on net/http.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/coupon"
)

// DefaultMaxBodyBytes bounds request bodies when HandlerConfig leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

// Engine computes coupons available to a cart.
type Engine interface {
	AvailableCoupons(ctx context.Context, cart []coupon.CartItem) ([]coupon.EligibleCoupon, error)
}

// Coupons manages the coupon catalog on behalf of shop owners.
type Coupons interface {
	Create(ctx context.Context, req coupon.CreateRequest) (*coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	ListByShop(ctx context.Context, shopID string) ([]coupon.Coupon, error)
	FindByName(ctx context.Context, name string) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes limits request bodies. Larger bodies get 413.
	MaxBodyBytes int64
}

// Handler serves the coupon API, delegating to the eligibility engine and
// the coupon service.
type Handler struct {
	engine  Engine
	coupons Coupons
	maxBody int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, engine Engine, coupons Coupons) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		engine:  engine,
		coupons: coupons,
		maxBody: cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on mux. Catalog writes require an API key
// with the coupons:write scope.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	mux.HandleFunc("POST /api/coupons/available", h.AvailableCoupons)
	mux.HandleFunc("GET /api/coupons/by-name/{name}", h.GetCouponByName)
	mux.HandleFunc("GET /api/coupons/{couponId}", h.GetCoupon)
	mux.HandleFunc("GET /api/shops/{shopId}/coupons", h.ListShopCoupons)
	mux.Handle("POST /api/coupons", sec.Require(auth.ScopeCouponsWrite, http.HandlerFunc(h.CreateCoupon)))
	mux.Handle("DELETE /api/coupons/{couponId}", sec.Require(auth.ScopeCouponsWrite, http.HandlerFunc(h.DeleteCoupon)))
}

// readBody reads the limited request body.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &requestError{
				status:  http.StatusRequestEntityTooLarge,
				code:    "body_too_large",
				message: "request body too large",
			}
		}
		return nil, badRequest("failed to read request body")
	}
	return data, nil
}
