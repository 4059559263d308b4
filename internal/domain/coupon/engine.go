package coupon

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xenking/bazaar/internal/domain/coupon"

var hundred = decimal.NewFromInt(100)

// ShopTotals sums qty * discountPrice per shop. The returned shop IDs are in
// order of first appearance in the cart.
func ShopTotals(cart []CartItem) (map[string]decimal.Decimal, []string) {
	totals := make(map[string]decimal.Decimal)
	var shopIDs []string
	for _, item := range cart {
		line := item.DiscountPrice.Mul(decimal.NewFromInt(int64(item.Qty)))
		total, seen := totals[item.ShopID]
		if !seen {
			shopIDs = append(shopIDs, item.ShopID)
		}
		totals[item.ShopID] = total.Add(line)
	}
	return totals, shopIDs
}

// Discount returns min(value, maxAmount or value, shopTotal * value / 100),
// additionally capped at shopTotal. The cap only bites for legacy coupons
// whose value exceeds 100.
//
// Value acts both as a currency cap and as a percentage here. The formula is
// kept as the storefront has always applied it.
func Discount(c Coupon, shopTotal decimal.Decimal) decimal.Decimal {
	maxAmount := c.Value
	if c.MaxAmount.Valid {
		maxAmount = c.MaxAmount.Decimal
	}
	percent := shopTotal.Mul(c.Value).Div(hundred)

	return decimal.Min(c.Value, maxAmount, percent, shopTotal)
}

// Eligible reports whether the shop total satisfies the coupon's minimum spend.
func Eligible(c Coupon, shopTotal decimal.Decimal) bool {
	return !c.MinAmount.Valid || shopTotal.GreaterThanOrEqual(c.MinAmount.Decimal)
}

// Evaluate filters coupons by minimum spend against their shop's cart total
// and returns the eligible ones sorted by discount, best first. Coupons for
// shops absent from the cart are ignored. Ties keep catalog order.
func Evaluate(cart []CartItem, coupons []Coupon) []EligibleCoupon {
	totals, _ := ShopTotals(cart)

	out := make([]EligibleCoupon, 0, len(coupons))
	for _, c := range coupons {
		total, ok := totals[c.ShopID]
		if !ok || !Eligible(c, total) {
			continue
		}
		out = append(out, EligibleCoupon{
			Coupon:           c,
			ApplicableAmount: total,
			DiscountAmount:   Discount(c, total),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DiscountAmount.GreaterThan(out[j].DiscountAmount)
	})
	return out
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(o *engineOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) EngineOption {
	return func(o *engineOptions) { o.meterProvider = mp }
}

// Engine computes the coupons currently redeemable against a cart.
type Engine struct {
	catalog Catalog
	tracer  trace.Tracer

	computations metric.Int64Counter
	returned     metric.Int64Histogram
}

// NewEngine creates an Engine backed by the given Catalog.
func NewEngine(catalog Catalog, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	computations, err := meter.Int64Counter("coupon.eligibility.computations",
		metric.WithDescription("Number of available coupon computations"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create computations counter")
	}
	returned, err := meter.Int64Histogram("coupon.eligibility.returned",
		metric.WithDescription("Number of eligible coupons returned per computation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create returned histogram")
	}

	return &Engine{
		catalog:      catalog,
		tracer:       o.tracerProvider.Tracer(instrumentationName),
		computations: computations,
		returned:     returned,
	}, nil
}

// AvailableCoupons returns the coupons redeemable against cart, best discount
// first. An empty cart yields an empty list without touching the catalog.
// Catalog failures are returned to the caller.
func (e *Engine) AvailableCoupons(ctx context.Context, cart []CartItem) ([]EligibleCoupon, error) {
	ctx, span := e.tracer.Start(ctx, "coupon.AvailableCoupons")
	defer span.End()

	if len(cart) == 0 {
		return []EligibleCoupon{}, nil
	}

	_, shopIDs := ShopTotals(cart)
	span.SetAttributes(
		attribute.Int("cart.items", len(cart)),
		attribute.Int("cart.shops", len(shopIDs)),
	)

	coupons, err := e.catalog.FindByShopIDs(ctx, shopIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		return nil, errors.Wrap(err, "find coupons by shops")
	}

	result := Evaluate(cart, coupons)

	e.computations.Add(ctx, 1)
	e.returned.Record(ctx, int64(len(result)))
	span.SetAttributes(
		attribute.Int("coupons.candidates", len(coupons)),
		attribute.Int("coupons.eligible", len(result)),
	)
	return result, nil
}
