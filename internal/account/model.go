package account

import "time"

// ChargeResult is the outcome of a charge as reported to callers.
type ChargeResult struct {
	IsAuthorized     bool
	RemainingBalance int64
	Charges          int64
}

// Balance is a point-in-time read of an account balance.
type Balance struct {
	Account string
	Amount  int64
	AsOf    time.Time
}
