package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the amount, optionally capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no coupon matches the requested code or id.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when creating a coupon whose code already exists.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Coupon is a discount definition together with its redemption constraints.
type Coupon struct {
	ID            int64
	Code          string
	Description   string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinPurchase   decimal.Decimal
	// MaxDiscount caps percentage discounts. Ignored for fixed coupons.
	MaxDiscount decimal.NullDecimal
	// UsageLimit is the global redemption cap; nil means unlimited.
	UsageLimit *int
	UsageCount int
	// PerUserLimit caps redemptions by a single user; nil means unlimited.
	PerUserLimit         *int
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	IsActive             bool
	ApplicableCategories []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NormalizeCode returns the canonical upper-case form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides coupon management outside of a checkout transaction.
type Repository interface {
	List(ctx context.Context) ([]Coupon, error)
	GetByID(ctx context.Context, id int64) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id int64) error
	CountRedemptions(ctx context.Context, couponID int64, userID string) (int, error)
}

// TxRepository is the coupon accessor bound to an open transaction.
type TxRepository interface {
	// GetForUpdate looks the coupon up by code and locks it until the
	// transaction ends. Returns ErrNotFound when absent.
	GetForUpdate(ctx context.Context, code string) (*Coupon, error)
	CountRedemptions(ctx context.Context, couponID int64, userID string) (int, error)
	IncrementUsage(ctx context.Context, couponID int64) error
	RecordRedemption(ctx context.Context, couponID int64, userID, orderID string) error
}
