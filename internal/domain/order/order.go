// Package order implements the order lifecycle: creation with balance or
// external payment, staff-driven progress, and finalization with refunds.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/product"
)

// Sentinel errors for order operations.
var (
	ErrNotFound           = domain.NewValidation("order not found")
	ErrTargetRequired     = domain.NewValidation("target id is required")
	ErrAccountBlocked     = domain.NewValidation("account is blocked")
	ErrInvalidFinalStatus = domain.NewValidation("final status must be COMPLETED, FAILED or CANCELED")
	ErrOpenOrderExists    = domain.NewConflict("account already has an open order")
	ErrAlreadyFinalized   = domain.NewConflict("order is already finalized")
	ErrStale              = domain.NewConflict("order status changed concurrently")
)

// ErrorKind implements domain.Kinded.
func (e *TransitionError) ErrorKind() domain.ErrorKind { return domain.KindConflict }

// ProductUnavailableError is returned when the ordered product is missing,
// inactive or disabled.
type ProductUnavailableError struct {
	ProductID int64
	Reason    string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is unavailable: %s", e.ProductID, e.Reason)
}

// ErrorKind implements domain.Kinded.
func (e *ProductUnavailableError) ErrorKind() domain.ErrorKind { return domain.KindValidation }

// Order is a purchase of one product for one target. Prices are frozen at
// creation: PriceUSD is what the customer pays after the coupon discount.
type Order struct {
	ID              int64
	AccountID       int64
	ProductID       int64
	ProductName     string
	TargetID        string
	Status          Status
	ExecutionType   product.Type
	BasePriceUSD    decimal.Decimal
	DiscountUSD     decimal.Decimal
	PriceUSD        decimal.Decimal
	ExchangeRate    decimal.Decimal
	PriceLocal      decimal.Decimal
	CouponCode      string
	PaymentMethodID *int64
	OperatorID      *int64
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaidFromBalance reports whether the order was paid by a ledger debit.
func (o *Order) PaidFromBalance() bool {
	return o.PaymentMethodID == nil
}

// Transition is a guarded status change. The repository applies it only if
// the stored status still equals From and From is not terminal.
type Transition struct {
	OrderID    int64
	From       Status
	To         Status
	OperatorID *int64
	Notes      string
}

// Repository persists orders.
type Repository interface {
	// Create stores o and fills in ID, CreatedAt and UpdatedAt. It returns
	// ErrOpenOrderExists if the account already has an open order.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	// GetForUpdate reads the order and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	// UpdateStatus applies t and returns the updated order. It returns
	// ErrAlreadyFinalized when the stored status is terminal and ErrStale when
	// it no longer equals t.From.
	UpdateStatus(ctx context.Context, t Transition) (*Order, error)
	HasOpenOrder(ctx context.Context, accountID int64) (bool, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Order, error)
	ListOpen(ctx context.Context, limit int) ([]Order, error)
}

// Event describes a committed status change.
type Event struct {
	Order    Order
	Previous Status
	Refund   *ledger.Entry
}

// Notifier is told about committed order changes. Implementations must not
// block the caller.
type Notifier interface {
	OrderChanged(ctx context.Context, ev Event)
}
