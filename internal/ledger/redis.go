package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/credits/internal/infra"
)

// redisStore holds the operations shared by the Redis charge strategies.
type redisStore struct {
	handle *infra.RedisHandle
}

func (s redisStore) client(ctx context.Context, op string) (*redis.Client, func(), error) {
	client, release, err := s.handle.Acquire(ctx)
	if err != nil {
		return nil, nil, storeError(ctx, op, s.handle, err)
	}
	return client, release, nil
}

func (s redisStore) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return storeError(ctx, op, s.handle, err)
}

// SetBalance overwrites the stored balance. Last write wins.
func (s redisStore) SetBalance(ctx context.Context, key string, balance int64) error {
	client, release, err := s.client(ctx, "set balance")
	if err != nil {
		return err
	}
	defer release()

	if err := client.Set(ctx, key, balance, 0).Err(); err != nil {
		return s.fail(ctx, "set balance", err)
	}
	return nil
}

// Balance reads the stored balance; the bool is false when the key is absent.
func (s redisStore) Balance(ctx context.Context, key string) (int64, bool, error) {
	client, release, err := s.client(ctx, "read balance")
	if err != nil {
		return 0, false, err
	}
	defer release()

	balance, err := client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.fail(ctx, "read balance", err)
	}
	return balance, true, nil
}

// chargeScript runs the whole read-compare-decrement on the server so no other
// command can interleave with it. DECRBY keeps any TTL set on the key.
var chargeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  return {0, 0, 0}
end
local balance = tonumber(current)
local amount = tonumber(ARGV[1])
if balance >= amount then
  local remaining = redis.call('DECRBY', KEYS[1], amount)
  return {1, remaining, amount}
end
return {0, balance, 0}
`)

// ScriptLedger charges balances with a server-side Lua script.
type ScriptLedger struct {
	redisStore
}

// NewScriptLedger builds a Redis ledger using EVALSHA for atomic charges.
func NewScriptLedger(handle *infra.RedisHandle) *ScriptLedger {
	return &ScriptLedger{redisStore{handle: handle}}
}

// Charge atomically deducts amount from key when the balance covers it.
func (l *ScriptLedger) Charge(ctx context.Context, key string, amount int64) (ChargeOutcome, error) {
	client, release, err := l.client(ctx, "charge")
	if err != nil {
		return ChargeOutcome{}, err
	}
	defer release()

	res, err := chargeScript.Run(ctx, client, []string{key}, amount).Result()
	if err != nil {
		return ChargeOutcome{}, l.fail(ctx, "charge", err)
	}
	return parseChargeReply(res)
}

func parseChargeReply(res any) (ChargeOutcome, error) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return ChargeOutcome{}, fmt.Errorf("unexpected redis script result: %v", res)
	}
	var nums [3]int64
	for i, v := range vals {
		n, ok := v.(int64)
		if !ok {
			return ChargeOutcome{}, fmt.Errorf("unexpected redis script result: %v", res)
		}
		nums[i] = n
	}
	return ChargeOutcome{Authorized: nums[0] == 1, Remaining: nums[1], Deducted: nums[2]}, nil
}
