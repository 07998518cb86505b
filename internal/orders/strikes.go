// Package orders drives the order pipeline: it turns a raw underlying price
// signal into a resolved, submitted vertical spread.
package orders

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidPrice is returned for price signals that are not finite positive
// numbers.
var ErrInvalidPrice = errors.New("price signal must be a finite positive number")

// StrikePair is the derived buy/sell strike pair for a $10-wide spread.
type StrikePair struct {
	Buy  float64
	Sell float64
}

// SelectStrikes derives the strike pair from a price signal: the sell strike
// is the signal rounded up to the next multiple of 10 (so the short leg sits
// at or above the signal), and the buy strike is exactly $10 below it.
func SelectStrikes(price float64) (StrikePair, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return StrikePair{}, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	sell := math.Ceil(price/10) * 10
	return StrikePair{Buy: sell - 10, Sell: sell}, nil
}
