package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point answer: Value scaled by 10^Decimals.
type Price struct {
	Value     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// NewPrice builds a price from an int64 value.
func NewPrice(value int64, decimals uint8, updatedAt time.Time) Price {
	return Price{Value: big.NewInt(value), Decimals: decimals, UpdatedAt: updatedAt}
}

// Decimal renders the fixed-point value as a decimal number.
func (p Price) Decimal() decimal.Decimal {
	if p.Value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(p.Value, -int32(p.Decimals))
}

// Clone deep-copies the underlying big.Int.
func (p Price) Clone() Price {
	out := p
	if p.Value != nil {
		out.Value = new(big.Int).Set(p.Value)
	}
	return out
}
