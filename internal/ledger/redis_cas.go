package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/credits/internal/infra"
)

const (
	defaultCASAttempts       = 16
	defaultCASBackoffInitial = 2 * time.Millisecond
	defaultCASBackoffMax     = 100 * time.Millisecond
)

// CASLedger charges balances with an optimistic WATCH/MULTI/EXEC loop. A charge
// that keeps losing to concurrent writers gives up with ErrConflict after
// maxAttempts tries.
type CASLedger struct {
	redisStore
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	onRetry        func()
}

// CASOption tunes a CASLedger.
type CASOption func(*CASLedger)

// WithMaxAttempts bounds how many times a charge is tried before ErrConflict.
func WithMaxAttempts(n int) CASOption {
	return func(l *CASLedger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBackoff sets the exponential backoff applied between attempts.
func WithBackoff(initial, maxInterval time.Duration) CASOption {
	return func(l *CASLedger) {
		if initial > 0 {
			l.backoffInitial = initial
		}
		if maxInterval >= initial {
			l.backoffMax = maxInterval
		}
	}
}

// WithRetryObserver registers fn to be called each time an attempt loses a race.
func WithRetryObserver(fn func()) CASOption {
	return func(l *CASLedger) { l.onRetry = fn }
}

// NewCASLedger builds a Redis ledger using optimistic transactions.
func NewCASLedger(handle *infra.RedisHandle, opts ...CASOption) *CASLedger {
	l := &CASLedger{
		redisStore:     redisStore{handle: handle},
		maxAttempts:    defaultCASAttempts,
		backoffInitial: defaultCASBackoffInitial,
		backoffMax:     defaultCASBackoffMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Charge deducts amount from key when the balance covers it, retrying when the
// key changes between the read and the write.
func (l *CASLedger) Charge(ctx context.Context, key string, amount int64) (ChargeOutcome, error) {
	client, release, err := l.client(ctx, "charge")
	if err != nil {
		return ChargeOutcome{}, err
	}
	defer release()

	var outcome ChargeOutcome
	txf := func(tx *redis.Tx) error {
		outcome = ChargeOutcome{}

		balance, err := tx.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if balance < amount {
			outcome.Remaining = balance
			return nil
		}

		var decr *redis.IntCmd
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			decr = pipe.DecrBy(ctx, key, amount)
			return nil
		}); err != nil {
			return err
		}
		outcome = ChargeOutcome{Authorized: true, Remaining: decr.Val(), Deducted: amount}
		return nil
	}

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		err := client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			if attempts < l.maxAttempts && l.onRetry != nil {
				l.onRetry()
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(backoff.WithMaxRetries(l.newBackOff(), uint64(l.maxAttempts-1)), ctx))

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, redis.TxFailedErr):
		return ChargeOutcome{}, fmt.Errorf("charge %s after %d attempts: %w", key, attempts, ErrConflict)
	default:
		return ChargeOutcome{}, l.fail(ctx, "charge", err)
	}
}

func (l *CASLedger) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.backoffInitial
	b.MaxInterval = l.backoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
