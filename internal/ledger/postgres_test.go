package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/congo-pay/credits/internal/infra"
)

func TestPostgresLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("credits"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	handle := infra.NewPostgresHandle(dsn)
	t.Cleanup(func() { handle.Close() })

	l := NewPostgresLedger(handle)
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, l.EnsureSchema(setupCtx))
	require.NoError(t, l.EnsureSchema(setupCtx), "schema bootstrap is repeatable")

	runLedgerSuite(t, func(*testing.T) Ledger { return l })

	t.Run("charge timeout releases connection", func(t *testing.T) {
		key := keyFor(t)
		require.NoError(t, l.SetBalance(ctx, key, startBalance))

		pool, release, err := handle.Acquire(ctx)
		require.NoError(t, err)
		defer release()

		blocker, err := pool.Begin(ctx)
		require.NoError(t, err)
		var held int64
		require.NoError(t, blocker.QueryRow(ctx, `SELECT balance FROM balances WHERE key = $1 FOR UPDATE`, key).Scan(&held))

		short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			_, err := l.Charge(short, key, 10)
			done <- err
		}()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrUnavailable)
		case <-time.After(5 * time.Second):
			t.Fatal("charge blocked past its deadline")
		}

		require.NoError(t, blocker.Rollback(ctx))

		out, err := l.Charge(ctx, key, 10)
		require.NoError(t, err)
		assert.Equal(t, ChargeOutcome{Authorized: true, Remaining: startBalance - 10, Deducted: 10}, out)
		assert.Equal(t, 1, handle.Dials(), "a timed out charge does not replace the pool")
	})
}
