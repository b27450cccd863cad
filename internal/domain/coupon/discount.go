package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// Amount returns the discount c grants on price. The result is rounded to
// cents and never exceeds price, so the discounted price is never negative.
func Amount(c *Coupon, price decimal.Decimal) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		d = price.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		d = c.Value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	d = money.Round(money.FloorZero(d))
	if d.GreaterThan(price) {
		d = price
	}
	return d, nil
}
