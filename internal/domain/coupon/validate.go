package coupon

import (
	"fmt"
	"unicode/utf8"
)

// InvalidError describes a malformed coupon definition.
type InvalidError struct {
	Field   string
	Message string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Field, e.Message)
}

// Validate normalizes the code of c and checks that the definition is
// internally consistent.
func Validate(c *Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if n := utf8.RuneCountInString(c.Code); n < 3 || n > 20 {
		return &InvalidError{Field: "code", Message: "must be 3 to 20 characters"}
	}

	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.GreaterThan(hundred) {
			return &InvalidError{Field: "discountValue", Message: "percentage must not exceed 100"}
		}
	case DiscountFixed:
		if c.MaxDiscount.Valid {
			return &InvalidError{Field: "maxDiscount", Message: "only applies to percentage coupons"}
		}
	default:
		return &InvalidError{Field: "discountType", Message: fmt.Sprintf("unsupported value %q", c.DiscountType)}
	}

	if c.DiscountValue.IsNegative() {
		return &InvalidError{Field: "discountValue", Message: "must not be negative"}
	}
	if c.MinPurchase.IsNegative() {
		return &InvalidError{Field: "minPurchase", Message: "must not be negative"}
	}
	if c.MaxDiscount.Valid && c.MaxDiscount.Decimal.IsNegative() {
		return &InvalidError{Field: "maxDiscount", Message: "must not be negative"}
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return &InvalidError{Field: "usageLimit", Message: "must not be negative"}
	}
	if c.PerUserLimit != nil && *c.PerUserLimit < 0 {
		return &InvalidError{Field: "perUserLimit", Message: "must not be negative"}
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return &InvalidError{Field: "validUntil", Message: "must not precede validFrom"}
	}
	return nil
}
