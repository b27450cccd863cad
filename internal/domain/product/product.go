// Package product describes the purchasable catalog.
package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = domain.NewValidation("product not found")

// Type decides how an order for the product is fulfilled.
type Type string

const (
	TypeAutomatic Type = "AUTOMATIC"
	TypeManual    Type = "MANUAL"
	TypeDisabled  Type = "DISABLED"
)

// Valid reports whether t is a known product type.
func (t Type) Valid() bool {
	return t == TypeAutomatic || t == TypeManual || t == TypeDisabled
}

// Product is a catalog item priced in USD.
type Product struct {
	ID          int64
	Name        string
	Category    string
	Description string
	PriceUSD    decimal.Decimal
	Type        Type
	Active      bool
}

// Purchasable reports whether new orders may reference the product.
func (p *Product) Purchasable() bool {
	return p.Active && p.Type != TypeDisabled
}

// Repository provides catalog access.
type Repository interface {
	Get(ctx context.Context, id int64) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	// Upsert creates the product when ID is zero and updates it otherwise.
	Upsert(ctx context.Context, p *Product) error
}
