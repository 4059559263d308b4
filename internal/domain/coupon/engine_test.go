package coupon

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}

type mockCatalog struct {
	coupons []Coupon
	err     error
	calls   int
	shopIDs []string
}

func (m *mockCatalog) FindByShopIDs(_ context.Context, shopIDs []string) ([]Coupon, error) {
	m.calls++
	m.shopIDs = shopIDs
	if m.err != nil {
		return nil, m.err
	}
	set := make(map[string]bool, len(shopIDs))
	for _, id := range shopIDs {
		set[id] = true
	}
	var out []Coupon
	for _, c := range m.coupons {
		if set[c.ShopID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func newEngine(t *testing.T, catalog Catalog) *Engine {
	t.Helper()
	e, err := NewEngine(catalog)
	require.NoError(t, err)
	return e
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name      string
		coupon    Coupon
		shopTotal decimal.Decimal
		want      decimal.Decimal
	}{
		{
			name:      "value caps percentage",
			coupon:    Coupon{Value: d("10"), MinAmount: nd("150")},
			shopTotal: d("200"),
			want:      d("10"),
		},
		{
			name:      "max amount caps",
			coupon:    Coupon{Value: d("20"), MaxAmount: nd("5")},
			shopTotal: d("50"),
			want:      d("5"),
		},
		{
			name:      "percentage below value",
			coupon:    Coupon{Value: d("10")},
			shopTotal: d("40"),
			want:      d("4"),
		},
		{
			name:      "fractional percentage",
			coupon:    Coupon{Value: d("15")},
			shopTotal: d("29.97"),
			want:      d("4.4955"),
		},
		{
			name:      "zero shop total",
			coupon:    Coupon{Value: d("50")},
			shopTotal: decimal.Zero,
			want:      decimal.Zero,
		},
		{
			name:      "legacy value above 100 capped at shop total",
			coupon:    Coupon{Value: d("150")},
			shopTotal: d("50"),
			want:      d("50"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Discount(tt.coupon, tt.shopTotal)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestShopTotals(t *testing.T) {
	totals, shopIDs := ShopTotals([]CartItem{
		{ShopID: "S2", Qty: 1, DiscountPrice: d("5")},
		{ShopID: "S1", Qty: 2, DiscountPrice: d("100")},
		{ShopID: "S2", Qty: 3, DiscountPrice: d("2.50")},
		{ShopID: "S3", Qty: 0, DiscountPrice: d("99")},
	})

	assert.Equal(t, []string{"S2", "S1", "S3"}, shopIDs)
	assert.True(t, d("12.5").Equal(totals["S2"]))
	assert.True(t, d("200").Equal(totals["S1"]))
	assert.True(t, decimal.Zero.Equal(totals["S3"]))
}

func TestEngine_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		cart    []CartItem
		coupons []Coupon
		want    map[string]string // coupon ID -> discount
		order   []string
	}{
		{
			name: "A: min amount met",
			cart: []CartItem{{ShopID: "S1", Qty: 2, DiscountPrice: d("100")}},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "TEN", Value: d("10"), MinAmount: nd("150")},
			},
			want:  map[string]string{"c1": "10"},
			order: []string{"c1"},
		},
		{
			name: "B: min amount not met",
			cart: []CartItem{{ShopID: "S1", Qty: 2, DiscountPrice: d("100")}},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "TEN", Value: d("10"), MinAmount: nd("250")},
			},
			want:  map[string]string{},
			order: []string{},
		},
		{
			name: "C: max amount caps discount",
			cart: []CartItem{{ShopID: "S1", Qty: 1, DiscountPrice: d("50")}},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "TWENTY", Value: d("20"), MaxAmount: nd("5")},
			},
			want:  map[string]string{"c1": "5"},
			order: []string{"c1"},
		},
		{
			name: "D: two shops ordered by discount",
			cart: []CartItem{
				{ShopID: "S1", Qty: 1, DiscountPrice: d("30")},
				{ShopID: "S2", Qty: 2, DiscountPrice: d("100")},
			},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "SMALL", Value: d("10")},
				{ID: "c2", ShopID: "S2", Name: "BIG", Value: d("15")},
			},
			want:  map[string]string{"c1": "3", "c2": "15"},
			order: []string{"c2", "c1"},
		},
		{
			name: "coupons of shops outside the cart are not fetched",
			cart: []CartItem{{ShopID: "S1", Qty: 1, DiscountPrice: d("100")}},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "A", Value: d("5")},
				{ID: "c2", ShopID: "S9", Name: "B", Value: d("50")},
			},
			want:  map[string]string{"c1": "5"},
			order: []string{"c1"},
		},
		{
			name: "ties keep catalog order",
			cart: []CartItem{{ShopID: "S1", Qty: 1, DiscountPrice: d("100")}},
			coupons: []Coupon{
				{ID: "c1", ShopID: "S1", Name: "A", Value: d("5")},
				{ID: "c2", ShopID: "S1", Name: "B", Value: d("20")},
				{ID: "c3", ShopID: "S1", Name: "C", Value: d("5")},
			},
			want:  map[string]string{"c1": "5", "c2": "20", "c3": "5"},
			order: []string{"c2", "c1", "c3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := &mockCatalog{coupons: tt.coupons}
			e := newEngine(t, catalog)

			got, err := e.AvailableCoupons(context.Background(), tt.cart)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			assert.Equal(t, 1, catalog.calls)

			ids := make([]string, len(got))
			for i, ec := range got {
				ids[i] = ec.ID
				want, ok := tt.want[ec.ID]
				require.True(t, ok, "unexpected coupon %s", ec.ID)
				assert.True(t, d(want).Equal(ec.DiscountAmount),
					"coupon %s: expected %s, got %s", ec.ID, want, ec.DiscountAmount)
			}
			assert.Equal(t, tt.order, ids)
		})
	}
}

func TestEngine_EmptyCart(t *testing.T) {
	catalog := &mockCatalog{err: errors.New("must not be called")}
	e := newEngine(t, catalog)

	for _, cart := range [][]CartItem{nil, {}} {
		got, err := e.AvailableCoupons(context.Background(), cart)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	assert.Zero(t, catalog.calls)
}

func TestEngine_NoMatchingCoupons(t *testing.T) {
	e := newEngine(t, &mockCatalog{})

	got, err := e.AvailableCoupons(context.Background(), []CartItem{
		{ShopID: "S1", Qty: 1, DiscountPrice: d("10")},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngine_CatalogError(t *testing.T) {
	lookupErr := errors.New("store unreachable")
	e := newEngine(t, &mockCatalog{err: lookupErr})

	got, err := e.AvailableCoupons(context.Background(), []CartItem{
		{ShopID: "S1", Qty: 1, DiscountPrice: d("10")},
	})
	require.ErrorIs(t, err, lookupErr)
	assert.Nil(t, got)
}

func TestEngine_SingleScopedLookup(t *testing.T) {
	catalog := &mockCatalog{}
	e := newEngine(t, catalog)

	_, err := e.AvailableCoupons(context.Background(), []CartItem{
		{ShopID: "S1", Qty: 1, DiscountPrice: d("10")},
		{ShopID: "S2", Qty: 1, DiscountPrice: d("10")},
		{ShopID: "S1", Qty: 4, DiscountPrice: d("1")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.calls)
	assert.Equal(t, []string{"S1", "S2"}, catalog.shopIDs)
}

func TestEvaluate_Invariants(t *testing.T) {
	cart := []CartItem{
		{ShopID: "S1", Qty: 3, DiscountPrice: d("19.99")},
		{ShopID: "S2", Qty: 1, DiscountPrice: d("7.50")},
		{ShopID: "S3", Qty: 10, DiscountPrice: d("120")},
		{ShopID: "S2", Qty: 2, DiscountPrice: d("0.35")},
	}
	var coupons []Coupon
	values := []string{"1", "5", "12.5", "33", "50", "99", "100"}
	mins := []string{"", "0", "10", "59.97", "60", "1000"}
	maxes := []string{"", "0.5", "3", "25"}
	n := 0
	for _, shopID := range []string{"S1", "S2", "S3"} {
		for _, v := range values {
			for _, mn := range mins {
				for _, mx := range maxes {
					c := Coupon{ID: string(rune('a' + n%26)), ShopID: shopID, Value: d(v)}
					if mn != "" {
						c.MinAmount = nd(mn)
					}
					if mx != "" {
						c.MaxAmount = nd(mx)
					}
					coupons = append(coupons, c)
					n++
				}
			}
		}
	}

	totals, _ := ShopTotals(cart)
	got := Evaluate(cart, coupons)
	require.LessOrEqual(t, len(got), len(coupons))
	require.NotEmpty(t, got)

	for i, ec := range got {
		assert.True(t, ec.DiscountAmount.LessThanOrEqual(ec.ApplicableAmount))
		assert.True(t, ec.DiscountAmount.LessThanOrEqual(ec.Value))
		assert.True(t, ec.ApplicableAmount.Equal(totals[ec.ShopID]))
		if ec.MaxAmount.Valid {
			assert.True(t, ec.DiscountAmount.LessThanOrEqual(ec.MaxAmount.Decimal))
		}
		if ec.MinAmount.Valid {
			assert.True(t, ec.ApplicableAmount.GreaterThanOrEqual(ec.MinAmount.Decimal))
		}
		if i > 0 {
			assert.True(t, got[i-1].DiscountAmount.GreaterThanOrEqual(ec.DiscountAmount),
				"result must be sorted by discount descending at %d", i)
		}
	}
}
