package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crypto-gateway/models"
)

// Postgres is the TransactionStore for multi-instance deployments
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to the database at url
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			amount NUMERIC(36, 18) NOT NULL,
			currency TEXT NOT NULL,
			usd_equivalent NUMERIC(36, 18) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			webhook_payload TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (provider, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS coin_balances (
			user_id TEXT PRIMARY KEY,
			coins BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coin_credits (
			transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
			user_id TEXT NOT NULL,
			coins BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			external_id TEXT NOT NULL,
			event TEXT NOT NULL,
			mapped_status TEXT NOT NULL,
			outcome TEXT NOT NULL,
			payload TEXT,
			received_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_external ON webhook_deliveries(provider, external_id)`,
	}

	for _, q := range queries {
		if _, err := p.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const postgresTransactionColumns = `id, user_id, provider, external_id, purpose, amount::text, currency,
	usd_equivalent::text, status, webhook_payload, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, tx *models.Transaction) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, provider, external_id, purpose, amount, currency,
			usd_equivalent, status, webhook_payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::numeric, $9, $10, $11, $12)`,
		tx.ID, tx.UserID, tx.Provider.String(), tx.ExternalID, string(tx.Purpose),
		tx.Amount.String(), tx.Currency, tx.USDEquivalent.String(), string(tx.Status),
		nullablePayload(tx.WebhookPayload), tx.CreatedAt, tx.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return scanPostgresTransaction(p.pool.QueryRow(ctx,
		`SELECT `+postgresTransactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (p *Postgres) GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Transaction, error) {
	return scanPostgresTransaction(p.pool.QueryRow(ctx,
		`SELECT `+postgresTransactionColumns+` FROM transactions WHERE provider = $1 AND external_id = $2`,
		provider.String(), externalID))
}

func (p *Postgres) ListByUser(ctx context.Context, userID string, f ListFilter) ([]models.Transaction, error) {
	f = f.normalized()

	where := []string{"user_id = $1"}
	args := []any{userID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Purpose != "" {
		args = append(args, string(f.Purpose))
		where = append(where, fmt.Sprintf("purpose = $%d", len(args)))
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT `+postgresTransactionColumns+` FROM transactions
		 WHERE %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, strings.Join(where, " AND "), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		tx, err := scanPostgresTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// Apply locks the row, performs the pending-to-terminal compare-and-swap and
// writes any coin credit before committing.
func (p *Postgres) Apply(ctx context.Context, t Transition) (ApplyResult, error) {
	if err := t.validate(); err != nil {
		return ApplyResult{}, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanPostgresTransaction(tx.QueryRow(ctx,
		`SELECT `+postgresTransactionColumns+` FROM transactions
		 WHERE provider = $1 AND external_id = $2 FOR UPDATE`,
		t.Provider.String(), t.ExternalID))
	if err != nil {
		return ApplyResult{}, err
	}
	if current.Status != models.StatusPending {
		return ApplyResult{Transaction: *current}, nil
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $1, webhook_payload = $2, updated_at = $3
		 WHERE id = $4 AND status = 'pending'`,
		string(t.Status), nullablePayload(t.Payload), now, current.ID)
	if err != nil {
		return ApplyResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return ApplyResult{Transaction: *current}, nil
	}

	current.Status = t.Status
	current.WebhookPayload = t.Payload
	current.UpdatedAt = now
	result := ApplyResult{Applied: true}

	if coins := current.Coins(); t.Status == models.StatusConfirmed && coins > 0 {
		tag, err := tx.Exec(ctx,
			`INSERT INTO coin_credits (transaction_id, user_id, coins, created_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (transaction_id) DO NOTHING`,
			current.ID, current.UserID, coins, now)
		if err != nil {
			return ApplyResult{}, err
		}
		if tag.RowsAffected() > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO coin_balances (user_id, coins, updated_at) VALUES ($1, $2, $3)
				 ON CONFLICT (user_id) DO UPDATE SET
					coins = coin_balances.coins + EXCLUDED.coins,
					updated_at = EXCLUDED.updated_at`,
				current.UserID, coins, now)
			if err != nil {
				return ApplyResult{}, err
			}
			result.CoinsCredited = coins
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, err
	}
	result.Transaction = *current
	return result, nil
}

func (p *Postgres) RecordDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, provider, external_id, event, mapped_status, outcome, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Provider.String(), d.ExternalID, d.Event, string(d.MappedStatus), string(d.Outcome),
		nullablePayload(d.Payload), d.ReceivedAt)
	return err
}

func (p *Postgres) CoinBalance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := p.pool.QueryRow(ctx, "SELECT coins FROM coin_balances WHERE user_id = $1", userID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return coins, err
}

func scanPostgresTransaction(row rowScanner) (*models.Transaction, error) {
	var r transactionRow
	err := row.Scan(&r.id, &r.userID, &r.provider, &r.externalID, &r.purpose, &r.amount,
		&r.currency, &r.usdEquivalent, &r.status, &r.payload, &r.createdAt, &r.updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.createdAt = r.createdAt.UTC()
	r.updatedAt = r.updatedAt.UTC()
	return r.toModel()
}
