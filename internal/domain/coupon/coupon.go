// Package coupon validates and redeems discount codes.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes Value percent off the price.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed USD amount off the price.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Reason explains why a coupon was rejected.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonInactive     Reason = "inactive"
	ReasonExpired      Reason = "expired"
	ReasonExhausted    Reason = "exhausted"
	ReasonBelowMinimum Reason = "below_minimum"
)

// InvalidError is returned when a coupon cannot be applied.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %q is invalid: %s", e.Code, e.Reason)
}

// ErrorKind implements domain.Kinded.
func (e *InvalidError) ErrorKind() domain.ErrorKind { return domain.KindValidation }

var (
	// ErrNotFound is returned by repositories for an unknown code.
	ErrNotFound = domain.NewValidation("coupon not found")
	// ErrAlreadyRedeemed is returned when an order already has a usage record.
	ErrAlreadyRedeemed = domain.NewConflict("coupon already redeemed for this order")
)

// Coupon is a discount code with a usage cap.
type Coupon struct {
	ID        int64
	Code      string
	Type      DiscountType
	Value     decimal.Decimal
	MaxUses   int
	UsedCount int
	MinAmount decimal.Decimal
	Active    bool
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Discount is the result of a successful validation.
type Discount struct {
	Code   string
	Amount decimal.Decimal
}

// UsageRecord links one redemption to an account and an order.
type UsageRecord struct {
	ID        int64
	CouponID  int64
	Code      string
	AccountID int64
	OrderID   int64
	Discount  decimal.Decimal
	CreatedAt time.Time
}

// Repository persists coupons and their redemptions.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Claim increments the used count only while it is below the cap and
	// reports whether it did.
	Claim(ctx context.Context, id int64) (bool, error)
	// AddUsage stores r and fills in ID and CreatedAt. It returns
	// ErrAlreadyRedeemed when the order already has a usage record.
	AddUsage(ctx context.Context, r *UsageRecord) error
	Upsert(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Coupon, error)
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
