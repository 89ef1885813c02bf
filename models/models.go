package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies one of the supported crypto payment gateways
type Provider int

const (
	ProviderBTCPay Provider = iota + 1
	ProviderCoinbase
	ProviderCryptomus
	ProviderBinance
	ProviderPayPal
)

// Providers lists every supported gateway in display order
var Providers = []Provider{
	ProviderBTCPay,
	ProviderCoinbase,
	ProviderCryptomus,
	ProviderBinance,
	ProviderPayPal,
}

func (p Provider) String() string {
	switch p {
	case ProviderBTCPay:
		return "btcpay"
	case ProviderCoinbase:
		return "coinbase"
	case ProviderCryptomus:
		return "cryptomus"
	case ProviderBinance:
		return "binance"
	case ProviderPayPal:
		return "paypal"
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider converts a gateway name into a Provider
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "btcpay":
		return ProviderBTCPay, nil
	case "coinbase":
		return ProviderCoinbase, nil
	case "cryptomus":
		return ProviderCryptomus, nil
	case "binance":
		return ProviderBinance, nil
	case "paypal":
		return ProviderPayPal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedGateway, s)
}

func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(text []byte) error {
	parsed, err := ParseProvider(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Purpose describes what a payment is for
type Purpose string

const (
	PurposeCoinPurchase Purpose = "coin_purchase"
	PurposeDonation     Purpose = "donation"
)

// Valid reports whether the purpose is one of the known values
func (p Purpose) Valid() bool {
	return p == PurposeCoinPurchase || p == PurposeDonation
}

// Status is the canonical transaction state
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether the status is one of the known values
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// PaymentRequest represents a payment creation request
type PaymentRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Provider Provider        `json:"gateway"`
	Purpose  Purpose         `json:"purpose"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// PaymentResult represents the outcome of a successful adapter call
type PaymentResult struct {
	TransactionID string          `json:"transactionId"`
	PaymentURL    string          `json:"paymentUrl,omitempty"`
	QRCode        string          `json:"qrCode,omitempty"`
	Address       string          `json:"address,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
}

// Transaction is the persisted record of a gateway payment
type Transaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Provider       Provider        `json:"gateway"`
	ExternalID     string          `json:"externalId"`
	Purpose        Purpose         `json:"purpose"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	USDEquivalent  decimal.Decimal `json:"usdEquivalent"`
	Status         Status          `json:"status"`
	WebhookPayload json.RawMessage `json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Coins returns the number of coins a confirmed coin purchase is worth
func (t Transaction) Coins() int64 {
	if t.Purpose != PurposeCoinPurchase || t.USDEquivalent.IsNegative() {
		return 0
	}
	return t.USDEquivalent.Floor().IntPart()
}

// Outcome is the result of reconciling one webhook delivery
type Outcome string

const (
	OutcomeRejected  Outcome = "rejected"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeApplied   Outcome = "applied"
)

// Delivery is the audit record of a verified webhook delivery
type Delivery struct {
	ID           string
	Provider     Provider
	ExternalID   string
	Event        string
	MappedStatus Status
	Outcome      Outcome
	Payload      json.RawMessage
	ReceivedAt   time.Time
}
