package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// FailSafePolicy is an immutable per-run snapshot of the exit rules.
// It is validated once at submit time; later settings edits never touch
// a run that is already in flight.
type FailSafePolicy struct {
	// TargetSellSpread is the spread percent at which the position is sold
	// for profit, e.g. 2.0.
	TargetSellSpread decimal.Decimal `json:"target_sell_spread"`
	// StopLossSpread is the spread percent at which the position is
	// force-sold to protect capital, e.g. -2.0. Must be <= 0.
	StopLossSpread decimal.Decimal `json:"stop_loss_spread"`
	// CheckInterval is the spread polling cadence during monitoring.
	CheckInterval time.Duration `json:"check_interval"`
	// MaxWait is the forced-sell deadline measured from the buy fill.
	MaxWait time.Duration `json:"max_wait"`
	// SlippageTolerance is the max acceptable percent deviation of a buy
	// fill price from the quoted price.
	SlippageTolerance decimal.Decimal `json:"slippage_tolerance"`
	// MinReserveForFees is the native-asset balance floor on the buy
	// exchange below which trading halts.
	MinReserveForFees decimal.Decimal `json:"min_reserve_for_fees"`
	// LiveMode places real orders against the exchange; otherwise fills
	// are simulated at the quoted price.
	LiveMode bool `json:"live_mode"`
}

// Validate checks the policy invariants.
func (p FailSafePolicy) Validate() error {
	if !p.TargetSellSpread.IsPositive() {
		return errors.Errorf("target sell spread must be positive, got %s", p.TargetSellSpread)
	}
	if p.StopLossSpread.IsPositive() {
		return errors.Errorf("stop loss spread must be <= 0, got %s", p.StopLossSpread)
	}
	if p.CheckInterval < time.Second {
		return errors.Errorf("check interval must be at least 1s, got %s", p.CheckInterval)
	}
	if p.MaxWait <= p.CheckInterval {
		return errors.Errorf("max wait %s must exceed check interval %s", p.MaxWait, p.CheckInterval)
	}
	if p.SlippageTolerance.IsNegative() {
		return errors.Errorf("slippage tolerance must not be negative, got %s", p.SlippageTolerance)
	}
	if p.MinReserveForFees.IsNegative() {
		return errors.Errorf("min reserve for fees must not be negative, got %s", p.MinReserveForFees)
	}
	return nil
}
