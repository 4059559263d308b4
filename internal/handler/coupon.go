package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// AvailableCoupons returns the coupons redeemable against the posted cart,
// best discount first.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cart, err := decodeCart(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	eligible, err := h.engine.AvailableCoupons(r.Context(), cart)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("availableCoupons")
	e.ArrStart()
	for i := range eligible {
		encodeEligible(&e, &eligible[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// CreateCoupon adds a coupon to a shop's catalog.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeCreateRequest(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	auditLogger(r.Context()).Info("Coupon created",
		zap.String("coupon_id", c.ID),
		zap.String("shop_id", c.ShopID),
	)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("couponCode")
	encodeCoupon(&e, c)
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}

// GetCoupon returns one coupon by ID.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), r.PathValue("couponId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("couponCode")
	encodeCoupon(&e, c)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetCouponByName returns the oldest coupon carrying the given name.
func (h *Handler) GetCouponByName(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.FindByName(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("couponCode")
	encodeCoupon(&e, c)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// ListShopCoupons returns a shop's catalog in creation order.
func (h *Handler) ListShopCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.ListByShop(r.Context(), r.PathValue("shopId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("couponCodes")
	e.ArrStart()
	for i := range coupons {
		encodeCoupon(&e, &coupons[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// DeleteCoupon removes a coupon by ID.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("couponId")
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	auditLogger(r.Context()).Info("Coupon deleted", zap.String("coupon_id", id))

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(true)
	e.FieldStart("message")
	e.Str("coupon deleted")
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}
