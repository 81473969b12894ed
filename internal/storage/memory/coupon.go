package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// CouponRepository implements coupon.Repository.
type CouponRepository struct {
	s *Store
}

var _ coupon.Repository = (*CouponRepository)(nil)

func (r *CouponRepository) List(_ context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	r.s.read(func(st *state) {
		out = make([]coupon.Coupon, 0, len(st.coupons))
		for _, c := range st.coupons {
			out = append(out, c)
		}
	})
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *CouponRepository) GetByID(_ context.Context, id int64) (*coupon.Coupon, error) {
	var (
		c  coupon.Coupon
		ok bool
	)
	r.s.read(func(st *state) { c, ok = st.coupons[id] })
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	var (
		c  *coupon.Coupon
		ok bool
	)
	r.s.read(func(st *state) { c, ok = findCode(st, code) })
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (r *CouponRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := r.s.state
	c.Code = coupon.NormalizeCode(c.Code)
	if _, dup := findCode(st, c.Code); dup {
		return coupon.ErrDuplicateCode
	}
	st.couponSeq++
	now := time.Now().UTC()
	c.ID = st.couponSeq
	c.UsageCount = 0
	c.CreatedAt, c.UpdatedAt = now, now
	st.coupons[c.ID] = *c
	return nil
}

// Update replaces the definition of an existing coupon. The usage counter is
// owned by checkout and is not overwritten.
func (r *CouponRepository) Update(_ context.Context, c *coupon.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := r.s.state
	cur, ok := st.coupons[c.ID]
	if !ok {
		return coupon.ErrNotFound
	}
	c.Code = coupon.NormalizeCode(c.Code)
	if other, dup := findCode(st, c.Code); dup && other.ID != c.ID {
		return coupon.ErrDuplicateCode
	}
	c.UsageCount = cur.UsageCount
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	st.coupons[c.ID] = *c
	return nil
}

func (r *CouponRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.state.coupons[id]; !ok {
		return coupon.ErrNotFound
	}
	delete(r.s.state.coupons, id)
	return nil
}

func (r *CouponRepository) CountRedemptions(_ context.Context, couponID int64, userID string) (int, error) {
	var n int
	r.s.read(func(st *state) { n = countRedemptions(st, couponID, userID) })
	return n, nil
}

func findCode(st *state, code string) (*coupon.Coupon, bool) {
	for _, c := range st.coupons {
		if c.Code == code {
			return &c, true
		}
	}
	return nil, false
}

func countRedemptions(st *state, couponID int64, userID string) int {
	var n int
	for _, r := range st.redemptions {
		if r.couponID == couponID && r.userID == userID {
			n++
		}
	}
	return n
}

type txCoupons struct {
	st *state
}

func (t txCoupons) GetForUpdate(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := findCode(t.st, coupon.NormalizeCode(code))
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (t txCoupons) CountRedemptions(_ context.Context, couponID int64, userID string) (int, error) {
	return countRedemptions(t.st, couponID, userID), nil
}

func (t txCoupons) IncrementUsage(_ context.Context, couponID int64) error {
	c, ok := t.st.coupons[couponID]
	if !ok {
		return coupon.ErrNotFound
	}
	c.UsageCount++
	c.UpdatedAt = time.Now().UTC()
	t.st.coupons[couponID] = c
	return nil
}

func (t txCoupons) RecordRedemption(_ context.Context, couponID int64, userID, orderID string) error {
	t.st.redemptions = append(t.st.redemptions, redemption{couponID: couponID, userID: userID, orderID: orderID})
	return nil
}
