package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Preview is the result of evaluating a coupon ahead of checkout.
type Preview struct {
	Coupon      *Coupon
	Verdict     Verdict
	FinalAmount decimal.Decimal
}

// Previewer evaluates coupons for a prospective purchase without redeeming
// them. It applies the same rules as checkout so a previewed discount is
// honored at commit time as long as the coupon state is unchanged.
type Previewer struct {
	repo Repository
	now  func() time.Time
}

// NewPreviewer creates a Previewer backed by the given Repository.
func NewPreviewer(repo Repository) *Previewer {
	return &Previewer{repo: repo, now: time.Now}
}

// Preview looks up code and evaluates it for userID against amount and the
// given categories. A rejected coupon yields a Preview with an invalid
// verdict, not an error; errors are reserved for lookups and storage.
func (p *Previewer) Preview(ctx context.Context, userID, code string, amount decimal.Decimal, categories []string) (*Preview, error) {
	c, err := p.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	v := Evaluate(c, amount, categories, p.now())
	if v.Valid && c.PerUserLimit != nil {
		used, err := p.repo.CountRedemptions(ctx, c.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "count redemptions")
		}
		if err := CheckUserLimit(c, used); err != nil {
			v = reject(ReasonUserLimit)
		}
	}

	out := &Preview{Coupon: c, Verdict: v, FinalAmount: amount}
	if v.Valid {
		out.FinalAmount = amount.Sub(v.Discount).Round(2)
	}
	return out, nil
}
