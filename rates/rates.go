// Package rates converts payment amounts into their USD equivalent.
package rates

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Converter turns an amount in some currency into USD
type Converter interface {
	ToUSD(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// Static converts with a fixed rate table. Currencies missing from the table
// convert 1:1.
type Static map[string]decimal.Decimal

// DefaultRates returns the built-in rate table
func DefaultRates() Static {
	return Static{
		"USD":  decimal.NewFromInt(1),
		"BTC":  decimal.NewFromInt(45000),
		"ETH":  decimal.NewFromInt(3000),
		"USDT": decimal.NewFromInt(1),
		"USDC": decimal.NewFromInt(1),
	}
}

func (s Static) ToUSD(_ context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, ok := s[strings.ToUpper(currency)]
	if !ok {
		return amount, nil
	}
	return amount.Mul(rate), nil
}
