package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/congo-pay/credits/internal/infra"
)

var (
	// ErrConflict is returned when a compare-and-swap charge kept losing races
	// against concurrent writers until its attempts ran out. Nothing was written.
	ErrConflict = errors.New("charge conflict: too much contention, retry later")

	// ErrUnavailable reports that the shared store could not serve the request.
	ErrUnavailable = infra.ErrUnavailable
)

// ChargeOutcome captures the result of an atomic conditional charge.
type ChargeOutcome struct {
	Authorized bool
	Remaining  int64
	Deducted   int64
}

// Ledger defines the contract implemented by balance backends (Redis, Postgres, memory).
//
// Charge must behave as one indivisible step per key: read the stored balance,
// report (false, 0, 0) when the key is absent, deduct and report
// (true, balance-amount, amount) when balance >= amount, and otherwise report
// (false, balance, 0) without writing.
type Ledger interface {
	SetBalance(ctx context.Context, key string, balance int64) error
	Balance(ctx context.Context, key string) (int64, bool, error)
	Charge(ctx context.Context, key string, amount int64) (ChargeOutcome, error)
}

type suspecter interface {
	Suspect()
}

// storeError wraps a backend failure. A caller that ran out of time only loses
// its own round trip; the driver discards that connection. Network failures
// schedule a health check on the shared handle, which retires it only if the
// ping fails too.
func storeError(ctx context.Context, op string, h suspecter, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if h != nil {
			h.Suspect()
		}
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
