package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine validates coupons against a price and redeems them for orders.
type Engine interface {
	Validate(ctx context.Context, code string, amount decimal.Decimal) (*Discount, error)
	Redeem(ctx context.Context, req RedeemRequest) (*UsageRecord, error)
}

// RedeemRequest identifies the redemption being recorded.
type RedeemRequest struct {
	Code      string
	AccountID int64
	OrderID   int64
	Discount  decimal.Decimal
}

// RepoEngine implements Engine on top of a Repository.
type RepoEngine struct {
	repo Repository
	now  func() time.Time
}

var _ Engine = (*RepoEngine)(nil)

// NewRepoEngine creates a RepoEngine backed by repo.
func NewRepoEngine(repo Repository) *RepoEngine {
	return &RepoEngine{repo: repo, now: time.Now}
}

func (e *RepoEngine) lookup(ctx context.Context, code string) (*Coupon, error) {
	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if !c.Active {
		return nil, &InvalidError{Code: code, Reason: ReasonInactive}
	}
	if c.UsedCount >= c.MaxUses {
		return nil, &InvalidError{Code: code, Reason: ReasonExhausted}
	}
	if c.ExpiresAt != nil && e.now().After(*c.ExpiresAt) {
		return nil, &InvalidError{Code: code, Reason: ReasonExpired}
	}
	return c, nil
}

// Validate checks the coupon in order: existence, active flag, usage cap,
// expiry and minimum amount, and returns the discount on amount. It does not
// consume a use.
func (e *RepoEngine) Validate(ctx context.Context, code string, amount decimal.Decimal) (*Discount, error) {
	code = NormalizeCode(code)
	c, err := e.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(c.MinAmount) {
		return nil, &InvalidError{Code: code, Reason: ReasonBelowMinimum}
	}

	d, err := Amount(c, amount)
	if err != nil {
		return nil, err
	}
	return &Discount{Code: c.Code, Amount: d}, nil
}

// Redeem consumes one use of the coupon and records it against the order.
// Callers run it in the same transaction as the order it discounts; the
// conditional claim keeps the used count within the cap under concurrency.
func (e *RepoEngine) Redeem(ctx context.Context, req RedeemRequest) (*UsageRecord, error) {
	code := NormalizeCode(req.Code)
	c, err := e.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	ok, err := e.repo.Claim(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "claim coupon")
	}
	if !ok {
		return nil, &InvalidError{Code: code, Reason: ReasonExhausted}
	}

	r := &UsageRecord{
		CouponID:  c.ID,
		Code:      c.Code,
		AccountID: req.AccountID,
		OrderID:   req.OrderID,
		Discount:  req.Discount,
	}
	if err := e.repo.AddUsage(ctx, r); err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			return nil, err
		}
		return nil, errors.Wrap(err, "add usage")
	}
	return r, nil
}
