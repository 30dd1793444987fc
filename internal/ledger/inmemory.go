package ledger

import (
	"context"
	"sync"
)

type inMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and local development.
func NewInMemory() Ledger {
	return &inMemoryLedger{balances: make(map[string]int64)}
}

func (l *inMemoryLedger) SetBalance(_ context.Context, key string, balance int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key] = balance
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, key string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[key]
	return balance, ok, nil
}

func (l *inMemoryLedger) Charge(_ context.Context, key string, amount int64) (ChargeOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[key]
	if !ok {
		return ChargeOutcome{}, nil
	}
	if balance < amount {
		return ChargeOutcome{Remaining: balance}, nil
	}

	balance -= amount
	l.balances[key] = balance
	return ChargeOutcome{Authorized: true, Remaining: balance, Deducted: amount}, nil
}
