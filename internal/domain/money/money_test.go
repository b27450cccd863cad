package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	assert.True(t, decimal.RequireFromString("1.24").Equal(Round(decimal.RequireFromString("1.235"))))
	assert.True(t, decimal.RequireFromString("-1.24").Equal(Round(decimal.RequireFromString("-1.235"))))
}

func TestFloorZero(t *testing.T) {
	assert.True(t, FloorZero(decimal.RequireFromString("-0.01")).IsZero())
	assert.True(t, decimal.RequireFromString("3").Equal(FloorZero(decimal.RequireFromString("3"))))
}

func TestLocal(t *testing.T) {
	got := Local(decimal.RequireFromString("10.50"), decimal.NewFromInt(12500))
	assert.True(t, decimal.NewFromInt(131250).Equal(got), got.String())
}
