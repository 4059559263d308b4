package rediscache

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/coupon"
)

// encodeCoupons writes a shop's coupon list. Amounts are stored as strings
// to keep decimals exact.
func encodeCoupons(coupons []coupon.Coupon) []byte {
	var e jx.Encoder
	e.ArrStart()
	for i := range coupons {
		c := &coupons[i]
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
		e.Str(c.Value.String())
		if c.MinAmount.Valid {
			e.FieldStart("minAmount")
			e.Str(c.MinAmount.Decimal.String())
		}
		if c.MaxAmount.Valid {
			e.FieldStart("maxAmount")
			e.Str(c.MaxAmount.Decimal.String())
		}
		e.FieldStart("createdAt")
		e.Str(c.CreatedAt.UTC().Format(time.RFC3339Nano))
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeCoupons(data []byte) ([]coupon.Coupon, error) {
	out := []coupon.Coupon{}
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var c coupon.Coupon
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			return decodeField(d, key, &c)
		}); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cached coupons")
	}
	return out, nil
}

func decodeField(d *jx.Decoder, key string, c *coupon.Coupon) error {
	switch key {
	case "id":
		return decodeStr(d, &c.ID)
	case "shopId":
		return decodeStr(d, &c.ShopID)
	case "shopName":
		return decodeStr(d, &c.ShopName)
	case "name":
		return decodeStr(d, &c.Name)
	case "value":
		v, err := decodeDecimal(d)
		c.Value = v
		return err
	case "minAmount":
		v, err := decodeDecimal(d)
		c.MinAmount = decimal.NewNullDecimal(v)
		return err
	case "maxAmount":
		v, err := decodeDecimal(d)
		c.MaxAmount = decimal.NewNullDecimal(v)
		return err
	case "createdAt":
		s, err := d.Str()
		if err != nil {
			return err
		}
		c.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
		return err
	default:
		return d.Skip()
	}
}

func decodeStr(d *jx.Decoder, dst *string) error {
	s, err := d.Str()
	*dst = s
	return err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}
