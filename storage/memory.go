package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-gateway/models"
)

type externalKey struct {
	provider   models.Provider
	externalID string
}

// Memory is an in-process TransactionStore. A single mutex serializes every
// write, which gives Apply the same atomicity as a database transaction.
type Memory struct {
	mu         sync.RWMutex
	byID       map[string]*models.Transaction
	byExternal map[externalKey]string
	balances   map[string]int64
	credits    map[string]int64
	deliveries []models.Delivery
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		byID:       make(map[string]*models.Transaction),
		byExternal: make(map[externalKey]string),
		balances:   make(map[string]int64),
		credits:    make(map[string]int64),
	}
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Create(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := externalKey{tx.Provider, tx.ExternalID}
	if _, ok := m.byExternal[key]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.byID[tx.ID]; ok {
		return ErrAlreadyExists
	}

	stored := *tx
	m.byID[tx.ID] = &stored
	m.byExternal[key] = tx.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *tx
	return &out, nil
}

func (m *Memory) GetByExternalID(_ context.Context, p models.Provider, externalID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalKey{p, externalID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.byID[id]
	return &out, nil
}

func (m *Memory) ListByUser(_ context.Context, userID string, f ListFilter) ([]models.Transaction, error) {
	f = f.normalized()

	m.mu.RLock()
	var matched []models.Transaction
	for _, tx := range m.byID {
		if tx.UserID != userID {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.Purpose != "" && tx.Purpose != f.Purpose {
			continue
		}
		matched = append(matched, *tx)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return []models.Transaction{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) Apply(_ context.Context, t Transition) (ApplyResult, error) {
	if err := t.validate(); err != nil {
		return ApplyResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byExternal[externalKey{t.Provider, t.ExternalID}]
	if !ok {
		return ApplyResult{}, ErrNotFound
	}
	tx := m.byID[id]
	if tx.Status != models.StatusPending {
		return ApplyResult{Transaction: *tx}, nil
	}

	tx.Status = t.Status
	tx.WebhookPayload = append([]byte(nil), t.Payload...)
	tx.UpdatedAt = time.Now().UTC()

	result := ApplyResult{Applied: true}
	if t.Status == models.StatusConfirmed {
		if coins := tx.Coins(); coins > 0 {
			if _, credited := m.credits[tx.ID]; !credited {
				m.credits[tx.ID] = coins
				m.balances[tx.UserID] += coins
				result.CoinsCredited = coins
			}
		}
	}
	result.Transaction = *tx
	return result, nil
}

func (m *Memory) RecordDelivery(_ context.Context, d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, *d)
	return nil
}

// Deliveries returns the recorded audit rows in arrival order
func (m *Memory) Deliveries() []models.Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Delivery(nil), m.deliveries...)
}

func (m *Memory) CoinBalance(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[userID], nil
}
