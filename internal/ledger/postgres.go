package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/credits/internal/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS balances (
    key        TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresLedger keeps one balance row per key and charges it inside a
// row-locking transaction.
type PostgresLedger struct {
	handle *infra.PostgresHandle

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(handle *infra.PostgresHandle) *PostgresLedger {
	return &PostgresLedger{handle: handle}
}

// EnsureSchema creates the balances table when missing. It also runs on the
// first use of the ledger.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	pool, release, err := l.handle.Acquire(ctx)
	if err != nil {
		return storeError(ctx, "ensure schema", l.handle, err)
	}
	defer release()

	l.schemaMu.Lock()
	defer l.schemaMu.Unlock()
	return l.ensureSchemaLocked(ctx, pool)
}

func (l *PostgresLedger) ensureSchemaLocked(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return storeError(ctx, "ensure schema", l.handle, err)
	}
	l.schemaReady = true
	return nil
}

// SetBalance upserts the balance for key.
func (l *PostgresLedger) SetBalance(ctx context.Context, key string, balance int64) error {
	pool, release, err := l.pool(ctx, "set balance")
	if err != nil {
		return err
	}
	defer release()

	_, err = pool.Exec(ctx, `INSERT INTO balances (key, balance) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`, key, balance)
	if err != nil {
		return storeError(ctx, "set balance", l.handle, err)
	}
	return nil
}

// Balance returns the stored balance; the bool is false when no row exists.
func (l *PostgresLedger) Balance(ctx context.Context, key string) (int64, bool, error) {
	pool, release, err := l.pool(ctx, "read balance")
	if err != nil {
		return 0, false, err
	}
	defer release()

	var balance int64
	if err := pool.QueryRow(ctx, `SELECT balance FROM balances WHERE key = $1`, key).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, storeError(ctx, "read balance", l.handle, err)
	}
	return balance, true, nil
}

// Charge locks the row, compares and deducts within one transaction. The
// transaction is finished and its connection returned before any failure is
// classified.
func (l *PostgresLedger) Charge(ctx context.Context, key string, amount int64) (ChargeOutcome, error) {
	pool, release, err := l.pool(ctx, "charge")
	if err != nil {
		return ChargeOutcome{}, err
	}
	defer release()

	var outcome ChargeOutcome
	err = pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		outcome = ChargeOutcome{}

		var balance int64
		err := tx.QueryRow(ctx, `SELECT balance FROM balances WHERE key = $1 FOR UPDATE`, key).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if balance < amount {
			outcome.Remaining = balance
			return nil
		}

		var remaining int64
		if err := tx.QueryRow(ctx, `UPDATE balances SET balance = balance - $2, updated_at = now()
            WHERE key = $1 RETURNING balance`, key, amount).Scan(&remaining); err != nil {
			return err
		}
		outcome = ChargeOutcome{Authorized: true, Remaining: remaining, Deducted: amount}
		return nil
	})
	if err != nil {
		return ChargeOutcome{}, storeError(ctx, "charge", l.handle, err)
	}
	return outcome, nil
}

func (l *PostgresLedger) pool(ctx context.Context, op string) (*pgxpool.Pool, func(), error) {
	pool, release, err := l.handle.Acquire(ctx)
	if err != nil {
		return nil, nil, storeError(ctx, op, l.handle, err)
	}

	l.schemaMu.Lock()
	defer l.schemaMu.Unlock()
	if !l.schemaReady {
		if err := l.ensureSchemaLocked(ctx, pool); err != nil {
			release()
			return nil, nil, err
		}
	}
	return pool, release, nil
}
