package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, min_purchase,
		max_discount, usage_limit, usage_count, per_user_limit, valid_from, valid_until,
		is_active, applicable_categories, created_at, updated_at`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY id`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	lockCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`

	createCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
		min_purchase, max_discount, usage_limit, per_user_limit, valid_from, valid_until,
		is_active, applicable_categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, usage_count, created_at, updated_at`

	updateCouponSQL = `UPDATE coupons SET code = $2, description = $3, discount_type = $4,
		discount_value = $5, min_purchase = $6, max_discount = $7, usage_limit = $8,
		per_user_limit = $9, valid_from = $10, valid_until = $11, is_active = $12,
		applicable_categories = $13, updated_at = now()
		WHERE id = $1
		RETURNING usage_count, created_at, updated_at`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	countRedemptionsSQL = `SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1, updated_at = now() WHERE id = $1`

	recordRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_id, user_id, order_id) VALUES ($1, $2, $3)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Codes are stored upper-cased, so lookups normalize their argument.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return coupons, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponSQL, id)
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return getCoupon(ctx, r.pool, getCouponByCodeSQL, coupon.NormalizeCode(code))
}

func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	err := r.pool.QueryRow(ctx, createCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinPurchase, c.MaxDiscount, c.UsageLimit, c.PerUserLimit, c.ValidFrom, c.ValidUntil,
		c.IsActive, categories(c.ApplicableCategories),
	).Scan(&c.ID, &c.UsageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the definition of c. The usage counter is owned by
// checkout and is never written here.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	err := r.pool.QueryRow(ctx, updateCouponSQL, c.ID,
		c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinPurchase, c.MaxDiscount, c.UsageLimit, c.PerUserLimit, c.ValidFrom, c.ValidUntil,
		c.IsActive, categories(c.ApplicableCategories),
	).Scan(&c.UsageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return coupon.ErrNotFound
		case isUniqueViolation(err):
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("updating coupon %d: %w", c.ID, err)
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID int64, userID string) (int, error) {
	return countRedemptions(ctx, r.pool, couponID, userID)
}

func getCoupon(ctx context.Context, q querier, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %v: %w", arg, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %v: %w", arg, err)
	}
	return &c, nil
}

func countRedemptions(ctx context.Context, q querier, couponID int64, userID string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, countRedemptionsSQL, couponID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions of coupon %d: %w", couponID, err)
	}
	return n, nil
}

// categories keeps the NOT NULL array column happy for a nil slice.
func categories(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue, &c.MinPurchase,
		&c.MaxDiscount, &c.UsageLimit, &c.UsageCount, &c.PerUserLimit, &c.ValidFrom, &c.ValidUntil,
		&c.IsActive, &c.ApplicableCategories, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}

type txCoupons struct {
	q querier
}

func (t txCoupons) GetForUpdate(ctx context.Context, code string) (*coupon.Coupon, error) {
	return getCoupon(ctx, t.q, lockCouponByCodeSQL, coupon.NormalizeCode(code))
}

func (t txCoupons) CountRedemptions(ctx context.Context, couponID int64, userID string) (int, error) {
	return countRedemptions(ctx, t.q, couponID, userID)
}

func (t txCoupons) IncrementUsage(ctx context.Context, couponID int64) error {
	tag, err := t.q.Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return fmt.Errorf("incrementing usage of coupon %d: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (t txCoupons) RecordRedemption(ctx context.Context, couponID int64, userID, orderID string) error {
	if _, err := t.q.Exec(ctx, recordRedemptionSQL, couponID, userID, orderID); err != nil {
		return fmt.Errorf("recording redemption of coupon %d: %w", couponID, err)
	}
	return nil
}
