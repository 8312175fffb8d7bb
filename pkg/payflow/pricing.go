package payflow

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoQuote is returned when the selected coin has no usable price.
var ErrNoQuote = errors.New("no price quote for selected currency")

// Equivalent converts an amount of platform tokens into the selected
// cryptocurrency: tokenAmount * tokenPrice / coinPrice, rounded to two places
// for display. A missing or zero coin price is an error, never an Inf.
func Equivalent(tokenAmount, tokenPrice, coinPrice decimal.Decimal) (decimal.Decimal, error) {
	if coinPrice.Sign() <= 0 {
		return decimal.Zero, ErrNoQuote
	}
	return tokenAmount.Mul(tokenPrice).Div(coinPrice).Round(2), nil
}
