package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/store-core/internal/domain/coupon"
)

// Coupons implements coupon.Repository.
type Coupons struct{ s *Store }

var _ coupon.Repository = (*Coupons)(nil)

func (r *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var out coupon.Coupon
	err := r.s.view(ctx, func(st *state) error {
		c, ok := st.coupons[coupon.NormalizeCode(code)]
		if !ok {
			return coupon.ErrNotFound
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Coupons) Claim(ctx context.Context, id int64) (bool, error) {
	var claimed bool
	err := r.s.update(ctx, func(st *state) error {
		for code, c := range st.coupons {
			if c.ID != id {
				continue
			}
			if c.UsedCount >= c.MaxUses {
				return nil
			}
			c.UsedCount++
			st.coupons[code] = c
			claimed = true
			return nil
		}
		return coupon.ErrNotFound
	})
	return claimed, err
}

func (r *Coupons) AddUsage(ctx context.Context, u *coupon.UsageRecord) error {
	return r.s.update(ctx, func(st *state) error {
		for _, existing := range st.usages {
			if existing.OrderID == u.OrderID {
				return coupon.ErrAlreadyRedeemed
			}
		}
		u.ID = st.id()
		u.CreatedAt = r.s.now().UTC()
		st.usages = append(st.usages, *u)
		return nil
	})
}

func (r *Coupons) Upsert(ctx context.Context, c *coupon.Coupon) error {
	return r.s.update(ctx, func(st *state) error {
		c.Code = coupon.NormalizeCode(c.Code)
		if cur, ok := st.coupons[c.Code]; ok {
			c.ID = cur.ID
			c.UsedCount = cur.UsedCount
			c.CreatedAt = cur.CreatedAt
		} else {
			c.ID = st.id()
			c.CreatedAt = r.s.now().UTC()
		}
		st.coupons[c.Code] = *c
		return nil
	})
}

func (r *Coupons) List(ctx context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	err := r.s.view(ctx, func(st *state) error {
		for _, c := range st.coupons {
			out = append(out, c)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return out, err
}

// Usages returns the redemptions recorded for code.
func (r *Coupons) Usages(ctx context.Context, code string) ([]coupon.UsageRecord, error) {
	var out []coupon.UsageRecord
	err := r.s.view(ctx, func(st *state) error {
		for _, u := range st.usages {
			if u.Code == coupon.NormalizeCode(code) {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}
