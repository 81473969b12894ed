package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(c.DiscountType)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, c.DiscountValue) })
		e.Field("minPurchase", func(e *jx.Encoder) { money(e, c.MinPurchase) })
		e.Field("maxDiscount", func(e *jx.Encoder) {
			if !c.MaxDiscount.Valid {
				e.Null()
				return
			}
			money(e, c.MaxDiscount.Decimal)
		})
		e.Field("usageLimit", func(e *jx.Encoder) { optInt(e, c.UsageLimit) })
		e.Field("usageCount", func(e *jx.Encoder) { e.Int(c.UsageCount) })
		e.Field("perUserLimit", func(e *jx.Encoder) { optInt(e, c.PerUserLimit) })
		e.Field("validFrom", func(e *jx.Encoder) { optTimestamp(e, c.ValidFrom) })
		e.Field("validUntil", func(e *jx.Encoder) { optTimestamp(e, c.ValidUntil) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("applicableCategories", func(e *jx.Encoder) { stringArr(e, c.ApplicableCategories) })
		e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, c.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { timestamp(e, c.UpdatedAt) })
	})
}

// decodeCoupon reads a full coupon definition. Omitted fields take the
// defaults of a new coupon: active, no minimum, no limits.
func decodeCoupon(w http.ResponseWriter, r *http.Request) (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		IsActive:             true,
		MinPurchase:          decimal.Zero,
		ApplicableCategories: []string{},
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			c.DiscountType = coupon.DiscountType(s)
		case "discountValue":
			c.DiscountValue, err = readDecimal(d)
		case "minPurchase":
			c.MinPurchase, err = readDecimal(d)
		case "maxDiscount":
			c.MaxDiscount, err = readNullDecimal(d)
		case "usageLimit":
			c.UsageLimit, err = readOptInt(d)
		case "perUserLimit":
			c.PerUserLimit, err = readOptInt(d)
		case "validFrom":
			c.ValidFrom, err = readOptTime(d)
		case "validUntil":
			c.ValidUntil, err = readOptTime(d)
		case "isActive":
			c.IsActive, err = d.Bool()
		case "applicableCategories":
			c.ApplicableCategories, err = readStrings(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := coupon.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func couponID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, coupon.ErrNotFound
	}
	return id, nil
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) error {
	coupons, err := h.coupons.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) error {
	id, err := couponID(r)
	if err != nil {
		return err
	}
	c, err := h.coupons.GetByID(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
	return nil
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) error {
	c, err := decodeCoupon(w, r)
	if err != nil {
		return err
	}
	if err := h.coupons.Create(r.Context(), c); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
	return nil
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) error {
	id, err := couponID(r)
	if err != nil {
		return err
	}
	c, err := decodeCoupon(w, r)
	if err != nil {
		return err
	}
	c.ID = id
	if err := h.coupons.Update(r.Context(), c); err != nil {
		return err
	}
	updated, err := h.coupons.GetByID(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, updated) })
	return nil
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) error {
	id, err := couponID(r)
	if err != nil {
		return err
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// previewCoupon evaluates a coupon for a prospective purchase. A rejected
// coupon is a successful response with valid=false.
func (h *Handler) previewCoupon(w http.ResponseWriter, r *http.Request) error {
	var (
		code       string
		amount     decimal.Decimal
		hasAmount  bool
		categories []string
	)
	if err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "amount":
			amount, err = readDecimal(d)
			hasAmount = true
		case "categories":
			categories, err = readStrings(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return err
	}
	switch {
	case coupon.NormalizeCode(code) == "":
		return badRequest("code is required")
	case !hasAmount:
		return badRequest("amount is required")
	case amount.IsNegative():
		return badRequest("amount must not be negative")
	}

	p, err := h.previewer.Preview(r.Context(), identity(r).Subject, code, amount, categories)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("valid", func(e *jx.Encoder) { e.Bool(p.Verdict.Valid) })
		if !p.Verdict.Valid {
			e.Field("message", func(e *jx.Encoder) { e.Str(p.Verdict.Err(p.Coupon.Code).Error()) })
			e.Field("reason", func(e *jx.Encoder) { e.Str(string(p.Verdict.Reason)) })
			if p.Verdict.Reason == coupon.ReasonBelowMinimum {
				e.Field("minPurchase", func(e *jx.Encoder) { money(e, p.Verdict.MinPurchase) })
			}
			e.ObjEnd()
			return
		}
		e.Field("discount", func(e *jx.Encoder) { money(e, p.Verdict.Discount) })
		e.Field("finalAmount", func(e *jx.Encoder) { money(e, p.FinalAmount) })
		e.Field("coupon", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str(p.Coupon.Code) })
				e.Field("description", func(e *jx.Encoder) { e.Str(p.Coupon.Description) })
				e.Field("discountType", func(e *jx.Encoder) { e.Str(string(p.Coupon.DiscountType)) })
				e.Field("discountValue", func(e *jx.Encoder) { money(e, p.Coupon.DiscountValue) })
			})
		})
		e.ObjEnd()
	})
	return nil
}
