package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"crypto-gateway/models"
)

// SQLite is the default TransactionStore. Write transactions are opened with
// BEGIN IMMEDIATE so concurrent Apply calls for the same payment serialize on
// the database lock.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			usd_equivalent TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			webhook_payload TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (provider, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS coin_balances (
			user_id TEXT PRIMARY KEY,
			coins INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS coin_credits (
			transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
			user_id TEXT NOT NULL,
			coins INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			external_id TEXT NOT NULL,
			event TEXT NOT NULL,
			mapped_status TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload TEXT,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_external ON webhook_deliveries(provider, external_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const sqliteTransactionColumns = `id, user_id, provider, external_id, purpose, amount, currency,
	usd_equivalent, status, webhook_payload, created_at, updated_at`

func (s *SQLite) Create(ctx context.Context, tx *models.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+sqliteTransactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Provider.String(), tx.ExternalID, string(tx.Purpose),
		tx.Amount.String(), tx.Currency, tx.USDEquivalent.String(), string(tx.Status),
		nullablePayload(tx.WebhookPayload), tx.CreatedAt.UnixMilli(), tx.UpdatedAt.UnixMilli(),
	)
	if isSQLiteUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *SQLite) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTransactionColumns+` FROM transactions WHERE id = ?`, id)
	return scanSQLiteTransaction(row)
}

func (s *SQLite) GetByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTransactionColumns+` FROM transactions WHERE provider = ? AND external_id = ?`,
		p.String(), externalID)
	return scanSQLiteTransaction(row)
}

func (s *SQLite) ListByUser(ctx context.Context, userID string, f ListFilter) ([]models.Transaction, error) {
	f = f.normalized()

	where := []string{"user_id = ?"}
	args := []any{userID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Purpose != "" {
		where = append(where, "purpose = ?")
		args = append(args, string(f.Purpose))
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTransactionColumns+` FROM transactions
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		tx, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// Apply performs the pending-to-terminal compare-and-swap and, for confirmed
// coin purchases, the ledger insert and balance increment in one transaction.
func (s *SQLite) Apply(ctx context.Context, t Transition) (ApplyResult, error) {
	if err := t.validate(); err != nil {
		return ApplyResult{}, err
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer func() {
		_ = dbtx.Rollback()
	}()

	current, err := scanSQLiteTransaction(dbtx.QueryRowContext(ctx,
		`SELECT `+sqliteTransactionColumns+` FROM transactions WHERE provider = ? AND external_id = ?`,
		t.Provider.String(), t.ExternalID))
	if err != nil {
		return ApplyResult{}, err
	}
	if current.Status != models.StatusPending {
		return ApplyResult{Transaction: *current}, nil
	}

	now := time.Now().UTC()
	res, err := dbtx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, webhook_payload = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(t.Status), nullablePayload(t.Payload), now.UnixMilli(), current.ID)
	if err != nil {
		return ApplyResult{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ApplyResult{Transaction: *current}, nil
	}

	current.Status = t.Status
	current.WebhookPayload = t.Payload
	current.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	result := ApplyResult{Applied: true}

	if coins := current.Coins(); t.Status == models.StatusConfirmed && coins > 0 {
		res, err := dbtx.ExecContext(ctx,
			`INSERT OR IGNORE INTO coin_credits (transaction_id, user_id, coins, created_at)
			 VALUES (?, ?, ?, ?)`,
			current.ID, current.UserID, coins, now.UnixMilli())
		if err != nil {
			return ApplyResult{}, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			_, err = dbtx.ExecContext(ctx,
				`INSERT INTO coin_balances (user_id, coins, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(user_id) DO UPDATE SET
					coins = coins + excluded.coins,
					updated_at = excluded.updated_at`,
				current.UserID, coins, now.UnixMilli())
			if err != nil {
				return ApplyResult{}, err
			}
			result.CoinsCredited = coins
		}
	}

	if err := dbtx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	result.Transaction = *current
	return result, nil
}

func (s *SQLite) RecordDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, provider, external_id, event, mapped_status, outcome, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Provider.String(), d.ExternalID, d.Event, string(d.MappedStatus), string(d.Outcome),
		nullablePayload(d.Payload), d.ReceivedAt.UnixMilli())
	return err
}

func (s *SQLite) CoinBalance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.db.QueryRowContext(ctx, "SELECT coins FROM coin_balances WHERE user_id = ?", userID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return coins, err
}

// CreditedCoins returns the ledger entry for a transaction, or ErrNotFound
func (s *SQLite) CreditedCoins(ctx context.Context, transactionID string) (int64, error) {
	var coins int64
	err := s.db.QueryRowContext(ctx, "SELECT coins FROM coin_credits WHERE transaction_id = ?", transactionID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return coins, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		r                transactionRow
		payload          sql.NullString
		created, updated int64
	)
	err := row.Scan(&r.id, &r.userID, &r.provider, &r.externalID, &r.purpose, &r.amount,
		&r.currency, &r.usdEquivalent, &r.status, &payload, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		r.payload = &payload.String
	}
	r.createdAt = time.UnixMilli(created).UTC()
	r.updatedAt = time.UnixMilli(updated).UTC()
	return r.toModel()
}

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
