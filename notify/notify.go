// Package notify publishes payment lifecycle events for downstream consumers
// (user messaging, the donation ledger).
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-gateway/logging"
	"crypto-gateway/models"
)

// EventType names a payment lifecycle event
type EventType string

const (
	EventPaymentCreated   EventType = "payment.created"
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentFailed    EventType = "payment.failed"
)

// Event is the message published for every payment lifecycle change
type Event struct {
	Type          EventType       `json:"type"`
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Gateway       models.Provider `json:"gateway"`
	ExternalID    string          `json:"externalId"`
	Purpose       models.Purpose  `json:"purpose"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        models.Status   `json:"status"`
	Coins         int64           `json:"coins,omitempty"`
	PaymentURL    string          `json:"paymentUrl,omitempty"`
	Message       string          `json:"message,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Notifier publishes events. Publish failures are reported to the caller,
// which decides whether they matter.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NewEvent builds an event describing tx
func NewEvent(t EventType, tx models.Transaction) Event {
	return Event{
		Type:          t,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Gateway:       tx.Provider,
		ExternalID:    tx.ExternalID,
		Purpose:       tx.Purpose,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        tx.Status,
		OccurredAt:    time.Now().UTC(),
	}
}

// PaymentCreated builds the payment.created event including the message sent
// to the user
func PaymentCreated(tx models.Transaction, result *models.PaymentResult) Event {
	ev := NewEvent(EventPaymentCreated, tx)
	ev.PaymentURL = result.PaymentURL
	ev.Message = CreatedMessage(tx.Provider, result)
	return ev
}

// CreatedMessage is the user-facing text announcing a new payment
func CreatedMessage(p models.Provider, result *models.PaymentResult) string {
	var kind string
	switch p {
	case models.ProviderBTCPay:
		kind = "BTCPay invoice"
	case models.ProviderCoinbase:
		kind = "Coinbase payment"
	case models.ProviderCryptomus:
		kind = "Cryptomus payment"
	case models.ProviderBinance:
		kind = "Binance payment"
	case models.ProviderPayPal:
		kind = "PayPal payment"
	default:
		return ""
	}
	return fmt.Sprintf("ChainGive: Your %s %s %s is ready. Pay here: %s",
		result.Amount.String(), result.Currency, kind, result.PaymentURL)
}

// LogNotifier writes events to the service log. It is used when no broker is
// configured.
type LogNotifier struct{}

func (LogNotifier) Publish(ctx context.Context, ev Event) error {
	logging.FromContext(ctx).Info("Payment event",
		zap.String("event_type", string(ev.Type)),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("user_id", ev.UserID),
		zap.String("gateway", ev.Gateway.String()),
		zap.String("status", string(ev.Status)),
		zap.Int64("coins", ev.Coins),
	)
	return nil
}

func (LogNotifier) Close() error { return nil }
