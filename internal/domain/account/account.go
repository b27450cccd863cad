// Package account models store customers and staff.
package account

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
)

// ErrNotFound is returned when an account does not exist.
var ErrNotFound = domain.NewValidation("account not found")

// Role is a user privilege level.
type Role string

const (
	RoleUser       Role = "USER"
	RoleSupport    Role = "SUPPORT"
	RoleOperator   Role = "OPERATOR"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

func (r Role) rank() int {
	switch r {
	case RoleSupport:
		return 1
	case RoleOperator:
		return 2
	case RoleSuperAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSupport, RoleOperator, RoleSuperAdmin:
		return true
	}
	return false
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

// IsStaff reports whether r is any staff role. Staff bypass the store gate.
func (r Role) IsStaff() bool {
	return r.AtLeast(RoleSupport)
}

// Account is a store user. Balance is only ever written by the ledger.
type Account struct {
	ID        int64
	Username  string
	FullName  string
	Role      Role
	Blocked   bool
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Repository persists accounts. Lock must be called inside a transaction and
// holds the account row until the transaction ends, serializing balance
// changes and order creation per account.
type Repository interface {
	Get(ctx context.Context, id int64) (*Account, error)
	Lock(ctx context.Context, id int64) (*Account, error)
	// Ensure creates the account with a zero balance if it does not exist and
	// refreshes the profile fields otherwise.
	Ensure(ctx context.Context, a *Account) error
	SetRole(ctx context.Context, id int64, role Role) error
	SetBlocked(ctx context.Context, id int64, blocked bool) error
}
