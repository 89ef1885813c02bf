package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"crypto-gateway/models"
)

// transactionRow holds the driver-neutral column values of a transactions row
type transactionRow struct {
	id            string
	userID        string
	provider      string
	externalID    string
	purpose       string
	amount        string
	currency      string
	usdEquivalent string
	status        string
	payload       *string
	createdAt     time.Time
	updatedAt     time.Time
}

func (r transactionRow) toModel() (*models.Transaction, error) {
	provider, err := models.ParseProvider(r.provider)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", r.id, err)
	}
	amount, err := decimal.NewFromString(r.amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: amount: %w", r.id, err)
	}
	usd, err := decimal.NewFromString(r.usdEquivalent)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: usd_equivalent: %w", r.id, err)
	}

	tx := &models.Transaction{
		ID:            r.id,
		UserID:        r.userID,
		Provider:      provider,
		ExternalID:    r.externalID,
		Purpose:       models.Purpose(r.purpose),
		Amount:        amount,
		Currency:      r.currency,
		USDEquivalent: usd,
		Status:        models.Status(r.status),
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
	}
	if r.payload != nil {
		tx.WebhookPayload = json.RawMessage(*r.payload)
	}
	return tx, nil
}

func nullablePayload(p json.RawMessage) *string {
	if len(p) == 0 {
		return nil
	}
	s := string(p)
	return &s
}
