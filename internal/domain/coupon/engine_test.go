package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-core/internal/domain"
)

type mockCouponRepo struct {
	coupon   *Coupon
	err      error
	claimed  bool
	claimErr error
	usages   []UsageRecord
	usageErr error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil || m.coupon.Code != code {
		return nil, ErrNotFound
	}
	c := *m.coupon
	return &c, nil
}

func (m *mockCouponRepo) Claim(_ context.Context, _ int64) (bool, error) {
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if m.coupon.UsedCount >= m.coupon.MaxUses {
		return false, nil
	}
	m.coupon.UsedCount++
	m.claimed = true
	return true, nil
}

func (m *mockCouponRepo) AddUsage(_ context.Context, r *UsageRecord) error {
	if m.usageErr != nil {
		return m.usageErr
	}
	r.ID = int64(len(m.usages) + 1)
	m.usages = append(m.usages, *r)
	return nil
}

func (m *mockCouponRepo) Upsert(context.Context, *Coupon) error { return nil }
func (m *mockCouponRepo) List(context.Context) ([]Coupon, error) {
	return nil, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(repo Repository) *RepoEngine {
	e := NewRepoEngine(repo)
	e.now = func() time.Time { return fixedNow }
	return e
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRepoEngine_Validate(t *testing.T) {
	base := Coupon{
		ID:        1,
		Code:      "SAVE10",
		Type:      DiscountPercentage,
		Value:     decimal.NewFromInt(10),
		MaxUses:   5,
		MinAmount: decimal.NewFromInt(5),
		Active:    true,
	}

	tests := []struct {
		name       string
		mutate     func(c *Coupon)
		code       string
		amount     string
		wantReason Reason
		wantAmount string
	}{
		{name: "valid", code: "SAVE10", amount: "10.00", wantAmount: "1.00"},
		{name: "code is normalized", code: "  save10 ", amount: "20.00", wantAmount: "2.00"},
		{name: "unknown", code: "NOPE", amount: "10.00", wantReason: ReasonNotFound},
		{
			name:       "inactive",
			mutate:     func(c *Coupon) { c.Active = false },
			code:       "SAVE10",
			amount:     "10.00",
			wantReason: ReasonInactive,
		},
		{
			name:       "expired",
			mutate:     func(c *Coupon) { c.ExpiresAt = timePtr(fixedNow.Add(-time.Minute)) },
			code:       "SAVE10",
			amount:     "10.00",
			wantReason: ReasonExpired,
		},
		{
			name:       "expires later",
			mutate:     func(c *Coupon) { c.ExpiresAt = timePtr(fixedNow.Add(time.Hour)) },
			code:       "SAVE10",
			amount:     "10.00",
			wantAmount: "1.00",
		},
		{
			name:       "exhausted",
			mutate:     func(c *Coupon) { c.UsedCount = 5 },
			code:       "SAVE10",
			amount:     "10.00",
			wantReason: ReasonExhausted,
		},
		{name: "below minimum", code: "SAVE10", amount: "4.99", wantReason: ReasonBelowMinimum},
		{
			name:       "inactive is reported before exhausted",
			mutate:     func(c *Coupon) { c.Active = false; c.UsedCount = 5 },
			code:       "SAVE10",
			amount:     "1.00",
			wantReason: ReasonInactive,
		},
		{
			name: "exhausted is reported before expired",
			mutate: func(c *Coupon) {
				c.MaxUses = 1
				c.UsedCount = 1
				c.ExpiresAt = timePtr(fixedNow.Add(-time.Hour))
			},
			code:       "SAVE10",
			amount:     "10.00",
			wantReason: ReasonExhausted,
		},
		{
			name: "expired is reported before below minimum",
			mutate: func(c *Coupon) {
				c.ExpiresAt = timePtr(fixedNow.Add(-time.Hour))
			},
			code:       "SAVE10",
			amount:     "1.00",
			wantReason: ReasonExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			repo := &mockCouponRepo{coupon: &c}
			got, err := newEngine(repo).Validate(context.Background(), tt.code, decimal.RequireFromString(tt.amount))

			if tt.wantReason != "" {
				var invalid *InvalidError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tt.wantReason, invalid.Reason)
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SAVE10", got.Code)
			assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(got.Amount), "got %s", got.Amount)
			assert.False(t, repo.claimed, "validate must not consume a use")
		})
	}
}

func TestRepoEngine_Validate_RepoError(t *testing.T) {
	repo := &mockCouponRepo{err: errors.New("connection refused")}
	_, err := newEngine(repo).Validate(context.Background(), "X", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
}

func TestRepoEngine_Redeem(t *testing.T) {
	c := &Coupon{ID: 7, Code: "ONCE", Type: DiscountFixed, Value: decimal.NewFromInt(1), MaxUses: 1, Active: true}
	repo := &mockCouponRepo{coupon: c}
	e := newEngine(repo)
	ctx := context.Background()

	rec, err := e.Redeem(ctx, RedeemRequest{Code: "once", AccountID: 3, OrderID: 11, Discount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.CouponID)
	assert.Equal(t, int64(11), rec.OrderID)
	assert.Equal(t, 1, c.UsedCount)

	_, err = e.Redeem(ctx, RedeemRequest{Code: "ONCE", AccountID: 4, OrderID: 12})
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonExhausted, invalid.Reason)
	assert.Len(t, repo.usages, 1)
}

func TestRepoEngine_Redeem_Duplicate(t *testing.T) {
	c := &Coupon{ID: 1, Code: "MULTI", Type: DiscountFixed, Value: decimal.NewFromInt(1), MaxUses: 10, Active: true}
	repo := &mockCouponRepo{coupon: c, usageErr: ErrAlreadyRedeemed}

	_, err := newEngine(repo).Redeem(context.Background(), RedeemRequest{Code: "MULTI", OrderID: 1})
	require.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}
