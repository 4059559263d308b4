package handler

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

// decodeCart reads {"cart": [...]}. An empty body, a missing cart or a null
// cart yield an empty cart. Unknown fields are ignored and a repeated cart
// key replaces the earlier one.
func decodeCart(data []byte) ([]coupon.CartItem, error) {
	cart := []coupon.CartItem{}
	if len(data) == 0 {
		return cart, nil
	}

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, badRequest("request body must be a JSON object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "cart" {
			return d.Skip()
		}
		cart = []coupon.CartItem{}
		switch d.Next() {
		case jx.Null:
			return d.Null()
		case jx.Array:
		default:
			return badRequest("cart must be an array")
		}
		return d.Arr(func(d *jx.Decoder) error {
			item, err := decodeCartItem(d, len(cart))
			if err != nil {
				return err
			}
			cart = append(cart, item)
			return nil
		})
	})
	if err != nil {
		return nil, asRequestError(err)
	}
	if err := expectEnd(d); err != nil {
		return nil, err
	}
	return cart, nil
}

// expectEnd rejects anything but whitespace after the top-level value.
func expectEnd(d *jx.Decoder) error {
	if d.Next() != jx.Invalid {
		return badRequest("unexpected data after JSON object")
	}
	return nil
}

func decodeCartItem(d *jx.Decoder, idx int) (coupon.CartItem, error) {
	var item coupon.CartItem
	if d.Next() != jx.Object {
		return item, badRequest("cart items must be objects")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shopId":
			s, err := d.Str()
			item.ShopID = s
			return err
		case "qty":
			n, err := d.Int()
			item.Qty = n
			return err
		case "discountPrice":
			v, err := decodeDecimal(d, fmt.Sprintf("cart[%d].discountPrice", idx))
			item.DiscountPrice = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return item, err
	}

	switch {
	case item.ShopID == "":
		return item, unprocessable("cart[%d].shopId is required", idx)
	case item.Qty < 0:
		return item, unprocessable("cart[%d].qty must not be negative", idx)
	case item.DiscountPrice.IsNegative():
		return item, unprocessable("cart[%d].discountPrice must not be negative", idx)
	}
	return item, nil
}

func decodeCreateRequest(data []byte) (coupon.CreateRequest, error) {
	var req coupon.CreateRequest
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return req, badRequest("request body must be a JSON object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shopId":
			s, err := d.Str()
			req.ShopID = s
			return err
		case "name":
			s, err := d.Str()
			req.Name = s
			return err
		case "value":
			v, err := decodeDecimal(d, "value")
			req.Value = v
			return err
		case "minAmount":
			v, err := decodeNullDecimal(d, "minAmount")
			req.MinAmount = v
			return err
		case "maxAmount":
			v, err := decodeNullDecimal(d, "maxAmount")
			req.MaxAmount = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, asRequestError(err)
	}
	return req, expectEnd(d)
}

// decodeDecimal reads a JSON number without going through float64. Quoted
// numbers are rejected.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	if d.Next() != jx.Number {
		return decimal.Decimal{}, badRequest(field + " must be a JSON number")
	}
	num, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	v, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "parse decimal")
	}
	return v, nil
}

func decodeNullDecimal(d *jx.Decoder, field string) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeDecimal(d, field)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

func encodeNullDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	encodeDecimal(e, v.Decimal)
}

func encodeEligible(e *jx.Encoder, c *coupon.EligibleCoupon) {
	e.ObjStart()
	e.FieldStart("couponId")
	e.Str(c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("value")
	encodeDecimal(e, c.Value)
	e.FieldStart("minAmount")
	encodeNullDecimal(e, c.MinAmount)
	e.FieldStart("maxAmount")
	encodeNullDecimal(e, c.MaxAmount)
	e.FieldStart("shopId")
	e.Str(c.ShopID)
	e.FieldStart("shopName")
	e.Str(c.ShopName)
	e.FieldStart("applicableAmount")
	encodeDecimal(e, c.ApplicableAmount)
	e.FieldStart("discountAmount")
	encodeDecimal(e, c.DiscountAmount)
	e.ObjEnd()
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("shopId")
	e.Str(c.ShopID)
	e.FieldStart("shopName")
	e.Str(c.ShopName)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("value")
	encodeDecimal(e, c.Value)
	e.FieldStart("minAmount")
	encodeNullDecimal(e, c.MinAmount)
	e.FieldStart("maxAmount")
	encodeNullDecimal(e, c.MaxAmount)
	e.FieldStart("createdAt")
	e.Str(c.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
