// Package storage persists gateway transactions, coin balances and the webhook
// delivery audit trail. Every implementation applies a status transition and
// its coin credit in one atomic unit.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crypto-gateway/config"
	"crypto-gateway/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// TransactionStore is the persistence port used by the payment service and
// the webhook reconciler
type TransactionStore interface {
	Migrate(ctx context.Context) error
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]models.Transaction, error)
	Apply(ctx context.Context, t Transition) (ApplyResult, error)
	RecordDelivery(ctx context.Context, d *models.Delivery) error
	CoinBalance(ctx context.Context, userID string) (int64, error)
	Close() error
}

// ListFilter narrows a user's transaction history
type ListFilter struct {
	Status  models.Status
	Purpose models.Purpose
	Limit   int
	Offset  int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Transition moves a pending transaction to a terminal status
type Transition struct {
	Provider   models.Provider
	ExternalID string
	Status     models.Status
	Payload    json.RawMessage
}

// ApplyResult reports what Apply did. Applied is false when the transaction
// had already left pending, in which case nothing was written.
type ApplyResult struct {
	Transaction   models.Transaction
	Applied       bool
	CoinsCredited int64
}

func (t Transition) validate() error {
	if !t.Status.Terminal() {
		return fmt.Errorf("transition to %q is not terminal", t.Status)
	}
	return nil
}

// Open returns the store selected by cfg.DBDriver
func Open(ctx context.Context, cfg *config.Config) (TransactionStore, error) {
	switch cfg.DBDriver {
	case "sqlite", "sqlite3":
		return NewSQLite(cfg.DBPath)
	case "postgres", "postgresql":
		return NewPostgres(ctx, cfg.DatabaseURL)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}
