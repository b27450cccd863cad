// Package payment lists the external payment methods customers may choose
// instead of paying from balance.
package payment

import (
	"context"

	"github.com/xenking/store-core/internal/domain"
)

var (
	// ErrNotFound is returned for an unknown payment method.
	ErrNotFound = domain.NewValidation("payment method not found")
	// ErrInactive is returned when a disabled method is selected.
	ErrInactive = domain.NewValidation("payment method is not active")
)

// Method is an external payment channel, such as a card transfer.
type Method struct {
	ID      int64
	Name    string
	Details string
	Active  bool
}

// Repository provides payment method access.
type Repository interface {
	Get(ctx context.Context, id int64) (*Method, error)
	List(ctx context.Context) ([]Method, error)
	Upsert(ctx context.Context, m *Method) error
}
