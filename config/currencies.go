package config

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is one catalogue entry shown to payers before checkout
type Currency struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name,omitempty"`
	Network       string          `json:"network,omitempty"`
	MinAmount     decimal.Decimal `json:"minAmount"`
	MaxAmount     decimal.Decimal `json:"maxAmount"`
	Confirmations int             `json:"confirmations"`
	EstimatedTime string          `json:"estimatedTime,omitempty"`
}

var currencyCatalogue = map[string]Currency{
	"BTC": {
		Symbol: "BTC", Name: "Bitcoin", Network: "Bitcoin",
		MinAmount: decimal.RequireFromString("0.0001"), MaxAmount: decimal.NewFromInt(10),
		Confirmations: 3, EstimatedTime: "30-60 minutes",
	},
	"ETH": {
		Symbol: "ETH", Name: "Ethereum", Network: "Ethereum",
		MinAmount: decimal.RequireFromString("0.001"), MaxAmount: decimal.NewFromInt(100),
		Confirmations: 12, EstimatedTime: "5-15 minutes",
	},
	"USDT": {
		Symbol: "USDT", Name: "Tether", Network: "Ethereum",
		MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(10000),
		Confirmations: 12, EstimatedTime: "5-15 minutes",
	},
	"USDC": {
		Symbol: "USDC", Name: "USD Coin", Network: "Ethereum",
		MinAmount: decimal.NewFromInt(1), MaxAmount: decimal.NewFromInt(10000),
		Confirmations: 12, EstimatedTime: "5-15 minutes",
	},
}

// Currencies returns the catalogue entry of every currency the gateway
// accepts. Codes without network details are listed by symbol only.
func (g Gateway) Currencies() []Currency {
	out := make([]Currency, 0, len(g.SupportedCurrencies))
	for _, code := range g.SupportedCurrencies {
		code = strings.ToUpper(code)
		c, ok := currencyCatalogue[code]
		if !ok {
			c = Currency{Symbol: code}
		}
		out = append(out, c)
	}
	return out
}
