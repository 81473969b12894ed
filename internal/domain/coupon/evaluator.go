package coupon

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Reason is a stable, client-facing explanation of a coupon rejection.
type Reason string

const (
	ReasonInactive      Reason = "inactive"
	ReasonNotYetValid   Reason = "not yet valid"
	ReasonExpired       Reason = "expired"
	ReasonExhausted     Reason = "exhausted"
	ReasonBelowMinimum  Reason = "below minimum purchase"
	ReasonNotApplicable Reason = "not applicable to cart contents"
	ReasonUserLimit     Reason = "per-user limit reached"
	ReasonUnsupported   Reason = "unsupported discount type"
)

var hundred = decimal.NewFromInt(100)

// Verdict is the outcome of evaluating a coupon against a candidate purchase.
type Verdict struct {
	Valid    bool
	Discount decimal.Decimal
	Reason   Reason
	// MinPurchase is set when Reason is ReasonBelowMinimum.
	MinPurchase decimal.Decimal
}

// Err returns nil for a valid verdict and a *RejectedError otherwise.
func (v Verdict) Err(code string) error {
	if v.Valid {
		return nil
	}
	return &RejectedError{Code: code, Reason: v.Reason, MinPurchase: v.MinPurchase}
}

// RejectedError reports why a coupon cannot be applied.
type RejectedError struct {
	Code        string
	Reason      Reason
	MinPurchase decimal.Decimal
}

func (e *RejectedError) Error() string {
	if e.Reason == ReasonBelowMinimum {
		return fmt.Sprintf("coupon %s rejected: %s of %s", e.Code, e.Reason, e.MinPurchase.StringFixed(2))
	}
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// Exhausted reports whether the rejection comes from a spent usage allowance
// rather than from the purchase itself.
func (e *RejectedError) Exhausted() bool {
	return e.Reason == ReasonExhausted || e.Reason == ReasonUserLimit
}

func reject(r Reason) Verdict {
	return Verdict{Reason: r, Discount: decimal.Zero}
}

// Evaluate checks c against a purchase of amount touching the given product
// categories at time now, and computes the discount. It never mutates c.
//
// Checks run in a fixed order and stop at the first failure: active flag,
// validity window, global usage limit, minimum purchase, category match.
// The discount never exceeds amount and is rounded to 2 decimal places.
func Evaluate(c *Coupon, amount decimal.Decimal, categories []string, now time.Time) Verdict {
	switch {
	case !c.IsActive:
		return reject(ReasonInactive)
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return reject(ReasonNotYetValid)
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return reject(ReasonExpired)
	case c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit:
		return reject(ReasonExhausted)
	case amount.LessThan(c.MinPurchase):
		v := reject(ReasonBelowMinimum)
		v.MinPurchase = c.MinPurchase
		return v
	case !appliesTo(c.ApplicableCategories, categories):
		return reject(ReasonNotApplicable)
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = amount.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case DiscountFixed:
		discount = c.DiscountValue
	default:
		return reject(ReasonUnsupported)
	}
	discount = decimal.Min(discount, amount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return Verdict{Valid: true, Discount: discount.Round(2)}
}

// appliesTo reports whether any of the purchase categories is allowed. An
// empty allow-list admits everything.
func appliesTo(allowed, categories []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, c := range categories {
		if slices.Contains(allowed, c) {
			return true
		}
	}
	return false
}

// CheckUserLimit rejects the coupon when userRedemptions already reached the
// coupon's per-user cap.
func CheckUserLimit(c *Coupon, userRedemptions int) error {
	if c.PerUserLimit != nil && userRedemptions >= *c.PerUserLimit {
		return &RejectedError{Code: c.Code, Reason: ReasonUserLimit}
	}
	return nil
}
