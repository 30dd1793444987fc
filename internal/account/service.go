package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/credits/internal/ledger"
	"github.com/congo-pay/credits/internal/logging"
	"github.com/congo-pay/credits/internal/metrics"
)

const (
	// DefaultAccount is used when a caller does not name an account.
	DefaultAccount = "account"
	// DefaultCharge is the amount charged when a caller does not supply one.
	DefaultCharge = int64(10)
	// DefaultBalance is the balance an account holds after Reset.
	DefaultBalance = int64(100)

	defaultStoreTimeout = 2 * time.Second
	balanceKeySuffix    = "/balance"
)

var (
	// ErrInvalidInput rejects empty account names and negative amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccountNotFound is returned by Balance for accounts never reset.
	ErrAccountNotFound = errors.New("account not found")
)

// Service exposes account balance operations backed by the ledger.
type Service struct {
	ledger         ledger.Ledger
	defaultBalance int64
	storeTimeout   time.Duration
	metrics        *metrics.Recorder
	logger         *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithDefaultBalance overrides the balance written by Reset.
func WithDefaultBalance(balance int64) Option {
	return func(s *Service) { s.defaultBalance = balance }
}

// WithStoreTimeout bounds every store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithMetrics records charge outcomes and store latency.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService builds an account service instance.
func NewService(l ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger:         l,
		defaultBalance: DefaultBalance,
		storeTimeout:   defaultStoreTimeout,
		logger:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BalanceKey derives the store key holding an account's balance.
func BalanceKey(account string) string {
	return account + balanceKeySuffix
}

// Reset sets the account balance to the default. Last write wins against
// concurrent charges.
func (s *Service) Reset(ctx context.Context, account string) error {
	if account == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	started := time.Now()
	err := s.ledger.SetBalance(ctx, BalanceKey(account), s.defaultBalance)
	s.metrics.ObserveStore("reset", started)
	if err != nil {
		s.logger.Error("reset balance", slog.String("account", account), slog.String("request_id", logging.RequestID(ctx)), slog.Any("error", err))
		return err
	}
	return nil
}

// Charge deducts amount from the account when its balance covers it. An
// insufficient balance or unknown account is a normal, unauthorized result.
func (s *Service) Charge(ctx context.Context, account string, amount int64) (ChargeResult, error) {
	if account == "" {
		return ChargeResult{}, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	if amount < 0 {
		return ChargeResult{}, fmt.Errorf("%w: charges must not be negative", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	started := time.Now()
	out, err := s.ledger.Charge(ctx, BalanceKey(account), amount)
	s.metrics.ObserveStore("charge", started)
	if err != nil {
		s.metrics.ObserveCharge(metrics.OutcomeError)
		s.logger.Error("charge balance",
			slog.String("account", account),
			slog.Int64("amount", amount),
			slog.String("request_id", logging.RequestID(ctx)),
			slog.Any("error", err),
		)
		return ChargeResult{}, err
	}

	switch {
	case out.Authorized:
		s.metrics.ObserveCharge(metrics.OutcomeAuthorized)
	case out.Remaining == 0:
		// Unknown and drained accounts both report a zero balance.
		s.metrics.ObserveCharge(metrics.OutcomeEmpty)
	default:
		s.metrics.ObserveCharge(metrics.OutcomeDeclined)
	}

	return ChargeResult{
		IsAuthorized:     out.Authorized,
		RemainingBalance: out.Remaining,
		Charges:          out.Deducted,
	}, nil
}

// Balance returns the current balance of the account.
func (s *Service) Balance(ctx context.Context, account string) (Balance, error) {
	if account == "" {
		return Balance{}, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	started := time.Now()
	amount, ok, err := s.ledger.Balance(ctx, BalanceKey(account))
	s.metrics.ObserveStore("balance", started)
	if err != nil {
		return Balance{}, err
	}
	if !ok {
		return Balance{}, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	return Balance{Account: account, Amount: amount, AsOf: time.Now().UTC()}, nil
}
