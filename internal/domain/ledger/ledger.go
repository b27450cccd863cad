// Package ledger owns account balances. Every balance change goes through
// ApplyDelta, which writes the new balance and an immutable entry in one
// transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindPurchase        Kind = "purchase"
	KindRefund          Kind = "refund"
	KindAdminAdjustment Kind = "admin_adjustment"
	KindCouponCredit    Kind = "coupon_credit"
)

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindPurchase, KindRefund, KindAdminAdjustment, KindCouponCredit:
		return true
	}
	return false
}

var (
	// ErrZeroAmount is returned for a delta of exactly zero.
	ErrZeroAmount = domain.NewValidation("ledger amount must be non-zero")
	// ErrPrecision is returned for amounts with more than two fractional digits.
	ErrPrecision = domain.NewValidation("ledger amount has more than two fractional digits")
	// ErrUnknownKind is returned for an unrecognised entry kind.
	ErrUnknownKind = domain.NewValidation("unknown ledger entry kind")
)

// InsufficientFundsError is returned when a debit would make the balance
// negative. No state is changed when it is returned.
type InsufficientFundsError struct {
	AccountID int64
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %d: balance %s, requested %s",
		e.AccountID, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

// ErrorKind implements domain.Kinded.
func (e *InsufficientFundsError) ErrorKind() domain.ErrorKind { return domain.KindInsufficientFunds }

// Shortfall is the amount missing to cover the request.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Balance)
}

// Delta is a requested signed change to an account balance.
type Delta struct {
	AccountID int64
	Amount    decimal.Decimal
	Kind      Kind
	Reason    string
	OrderID   *int64
	ActorID   *int64
}

// Entry is the immutable record of an applied delta.
type Entry struct {
	ID            int64
	AccountID     int64
	Amount        decimal.Decimal
	Kind          Kind
	Reason        string
	OrderID       *int64
	ActorID       *int64
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// Store is the persistence side of the ledger. LockBalance and SetBalance are
// only valid inside a transaction; SetBalance is the only balance writer in
// the system.
type Store interface {
	LockBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	// Append stores e and fills in ID and CreatedAt.
	Append(ctx context.Context, e *Entry) error
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Entry, error)
	Sum(ctx context.Context, accountID int64) (decimal.Decimal, error)
}
