package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/store-core/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, value, max_uses, used_count, min_amount, active, expires_at, created_at`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	claimCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND used_count < max_uses`

	insertUsageSQL = `INSERT INTO coupon_usage (coupon_id, code, account_id, order_id, discount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, max_uses, min_amount, active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			max_uses = GREATEST(EXCLUDED.max_uses, coupons.used_count),
			min_amount = EXCLUDED.min_amount,
			active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at
		RETURNING id, used_count, created_at`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY code`

	usageOrderConstraint = "coupon_usage_order_key"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db *DB
}

// FindByCode looks up a coupon by its normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	rows, err := r.db.q(ctx).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Claim increments used_count only while it is below max_uses. The row lock
// taken by the UPDATE serializes concurrent claims.
func (r *CouponRepository) Claim(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.q(ctx).Exec(ctx, claimCouponSQL, id)
	if err != nil {
		return false, fmt.Errorf("claiming coupon %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CouponRepository) AddUsage(ctx context.Context, u *coupon.UsageRecord) error {
	err := r.db.q(ctx).QueryRow(ctx, insertUsageSQL, u.CouponID, u.Code, u.AccountID, u.OrderID, u.Discount).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if uniqueViolation(err, usageOrderConstraint) {
			return coupon.ErrAlreadyRedeemed
		}
		return fmt.Errorf("inserting coupon usage: %w", err)
	}
	return nil
}

// Upsert creates or updates a coupon by code. The used count is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	err := r.db.q(ctx).QueryRow(ctx, upsertCouponSQL,
		c.Code, string(c.Type), c.Value, c.MaxUses, c.MinAmount, c.Active, c.ExpiresAt,
	).Scan(&c.ID, &c.UsedCount, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.db.q(ctx).Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		maxUses      int32
		usedCount    int32
	)
	err := row.Scan(&c.ID, &c.Code, &discountType, &c.Value, &maxUses, &usedCount,
		&c.MinAmount, &c.Active, &c.ExpiresAt, &c.CreatedAt)
	c.Type = coupon.DiscountType(discountType)
	c.MaxUses = int(maxUses)
	c.UsedCount = int(usedCount)
	return c, err
}
