package coupon

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		coupon       Coupon
		amount       string
		categories   []string
		wantValid    bool
		wantDiscount string
		wantReason   Reason
	}{
		{
			name:         "percentage",
			coupon:       Coupon{IsActive: true, DiscountType: DiscountPercentage, DiscountValue: dec("10")},
			amount:       "59.90",
			wantValid:    true,
			wantDiscount: "5.99",
		},
		{
			name: "percentage clamped to max",
			coupon: Coupon{
				IsActive:      true,
				DiscountType:  DiscountPercentage,
				DiscountValue: dec("50"),
				MaxDiscount:   decimal.NewNullDecimal(dec("20")),
			},
			amount:       "1000",
			wantValid:    true,
			wantDiscount: "20.00",
		},
		{
			name:         "percentage rounds to cents",
			coupon:       Coupon{IsActive: true, DiscountType: DiscountPercentage, DiscountValue: dec("15")},
			amount:       "3.33",
			wantValid:    true,
			wantDiscount: "0.50",
		},
		{
			name:         "fixed",
			coupon:       Coupon{IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("7.50")},
			amount:       "30",
			wantValid:    true,
			wantDiscount: "7.50",
		},
		{
			name:         "fixed clamped to amount",
			coupon:       Coupon{IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("50")},
			amount:       "12.34",
			wantValid:    true,
			wantDiscount: "12.34",
		},
		{
			name:       "inactive",
			coupon:     Coupon{DiscountType: DiscountFixed, DiscountValue: dec("1")},
			amount:     "10",
			wantReason: ReasonInactive,
		},
		{
			name: "not yet valid",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ValidFrom: ptr(testNow.Add(time.Minute)),
			},
			amount:     "10",
			wantReason: ReasonNotYetValid,
		},
		{
			name: "valid from is inclusive",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ValidFrom: ptr(testNow),
			},
			amount:       "10",
			wantValid:    true,
			wantDiscount: "1.00",
		},
		{
			name: "expired",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ValidUntil: ptr(testNow.Add(-time.Second)),
			},
			amount:     "10",
			wantReason: ReasonExpired,
		},
		{
			name: "valid until is inclusive",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ValidUntil: ptr(testNow),
			},
			amount:       "10",
			wantValid:    true,
			wantDiscount: "1.00",
		},
		{
			name: "exhausted",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				UsageLimit: ptr(3), UsageCount: 3,
			},
			amount:     "10",
			wantReason: ReasonExhausted,
		},
		{
			name: "below minimum",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				MinPurchase: dec("100"),
			},
			amount:     "99.99",
			wantReason: ReasonBelowMinimum,
		},
		{
			name: "at minimum",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				MinPurchase: dec("100"),
			},
			amount:       "100.00",
			wantValid:    true,
			wantDiscount: "1.00",
		},
		{
			name: "category mismatch",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ApplicableCategories: []string{"garden"},
			},
			amount:     "10",
			categories: []string{"tools", "kitchen"},
			wantReason: ReasonNotApplicable,
		},
		{
			name: "category intersects",
			coupon: Coupon{
				IsActive: true, DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ApplicableCategories: []string{"garden", "kitchen"},
			},
			amount:       "10",
			categories:   []string{"tools", "kitchen"},
			wantValid:    true,
			wantDiscount: "1.00",
		},
		{
			name: "inactive wins over expired",
			coupon: Coupon{
				DiscountType: DiscountFixed, DiscountValue: dec("1"),
				ValidUntil: ptr(testNow.Add(-time.Hour)),
			},
			amount:     "10",
			wantReason: ReasonInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(&tt.coupon, dec(tt.amount), tt.categories, testNow)

			assert.Equal(t, tt.wantValid, v.Valid)
			if !tt.wantValid {
				assert.Equal(t, tt.wantReason, v.Reason)
				assert.True(t, v.Discount.IsZero())
				return
			}
			assert.Equal(t, tt.wantDiscount, v.Discount.StringFixed(2))
			assert.Empty(t, v.Reason)
		})
	}
}

func TestEvaluate_UnknownDiscountType(t *testing.T) {
	c := &Coupon{IsActive: true, DiscountType: "bogo", DiscountValue: dec("7")}

	v := Evaluate(c, dec("50"), nil, testNow)

	assert.False(t, v.Valid)
	assert.Equal(t, ReasonUnsupported, v.Reason)
	assert.True(t, v.Discount.IsZero())
}

func TestEvaluate_Idempotent(t *testing.T) {
	c := &Coupon{
		IsActive:      true,
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("12.5"),
		UsageLimit:    ptr(10),
		UsageCount:    4,
	}

	first := Evaluate(c, dec("80"), nil, testNow)
	second := Evaluate(c, dec("80"), nil, testNow)

	assert.Equal(t, first.Valid, second.Valid)
	assert.True(t, first.Discount.Equal(second.Discount))
	assert.Equal(t, 4, c.UsageCount)
}

func TestVerdict_Err(t *testing.T) {
	c := &Coupon{IsActive: true, Code: "BIG", DiscountType: DiscountFixed, DiscountValue: dec("1"), MinPurchase: dec("100")}

	v := Evaluate(c, dec("50"), nil, testNow)
	err := v.Err(c.Code)

	var rejErr *RejectedError
	require.True(t, errors.As(err, &rejErr))
	assert.Equal(t, ReasonBelowMinimum, rejErr.Reason)
	assert.Equal(t, "100.00", rejErr.MinPurchase.StringFixed(2))
	assert.False(t, rejErr.Exhausted())
	assert.Contains(t, err.Error(), "100.00")

	ok := Evaluate(c, dec("150"), nil, testNow)
	assert.NoError(t, ok.Err(c.Code))
}

func TestCheckUserLimit(t *testing.T) {
	assert.NoError(t, CheckUserLimit(&Coupon{}, 100))
	assert.NoError(t, CheckUserLimit(&Coupon{PerUserLimit: ptr(2)}, 1))

	err := CheckUserLimit(&Coupon{Code: "X", PerUserLimit: ptr(2)}, 2)
	var rejErr *RejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, ReasonUserLimit, rejErr.Reason)
	assert.True(t, rejErr.Exhausted())
}

func TestValidate(t *testing.T) {
	base := func() Coupon {
		return Coupon{Code: " summer25 ", DiscountType: DiscountPercentage, DiscountValue: dec("25")}
	}
	tests := []struct {
		name      string
		mutate    func(c *Coupon)
		wantField string
	}{
		{name: "ok", mutate: func(*Coupon) {}},
		{name: "short code", mutate: func(c *Coupon) { c.Code = "ab" }, wantField: "code"},
		{name: "long code", mutate: func(c *Coupon) { c.Code = "ABCDEFGHIJKLMNOPQRSTU" }, wantField: "code"},
		{name: "over 100 percent", mutate: func(c *Coupon) { c.DiscountValue = dec("100.01") }, wantField: "discountValue"},
		{name: "unknown type", mutate: func(c *Coupon) { c.DiscountType = "bogo" }, wantField: "discountType"},
		{
			name: "max discount on fixed",
			mutate: func(c *Coupon) {
				c.DiscountType = DiscountFixed
				c.MaxDiscount = decimal.NewNullDecimal(dec("5"))
			},
			wantField: "maxDiscount",
		},
		{name: "negative value", mutate: func(c *Coupon) { c.DiscountValue = dec("-1") }, wantField: "discountValue"},
		{name: "negative minimum", mutate: func(c *Coupon) { c.MinPurchase = dec("-1") }, wantField: "minPurchase"},
		{name: "negative usage limit", mutate: func(c *Coupon) { c.UsageLimit = ptr(-1) }, wantField: "usageLimit"},
		{name: "negative per-user limit", mutate: func(c *Coupon) { c.PerUserLimit = ptr(-1) }, wantField: "perUserLimit"},
		{
			name: "window reversed",
			mutate: func(c *Coupon) {
				c.ValidFrom = ptr(testNow)
				c.ValidUntil = ptr(testNow.Add(-time.Hour))
			},
			wantField: "validUntil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := Validate(&c)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "SUMMER25", c.Code)
				return
			}
			var invErr *InvalidError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tt.wantField, invErr.Field)
		})
	}
}
