package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunState is a state of the execution state machine.
type RunState string

const (
	RunStatePendingBuy RunState = "PENDING_BUY"
	RunStateBuying     RunState = "BUYING"
	RunStateMonitoring RunState = "MONITORING"
	RunStateSelling    RunState = "SELLING"
	RunStateSettled    RunState = "SETTLED"
	RunStateFailed     RunState = "FAILED"
	RunStateAborted    RunState = "ABORTED"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSettled, RunStateFailed, RunStateAborted:
		return true
	}
	return false
}

func (s RunState) String() string { return string(s) }

// ExitTrigger identifies which fail-safe condition fired the sell.
type ExitTrigger string

const (
	ExitTriggerNone         ExitTrigger = ""
	ExitTriggerTarget       ExitTrigger = "target"
	ExitTriggerStopLoss     ExitTrigger = "stop_loss"
	ExitTriggerTimeout      ExitTrigger = "timeout"
	ExitTriggerManualCancel ExitTrigger = "manual_cancel"
	ExitTriggerError        ExitTrigger = "error"
)

// FailReason classifies a terminal failure.
type FailReason string

const (
	FailReasonNone             FailReason = ""
	FailReasonSlippageExceeded FailReason = "SlippageExceeded"
	FailReasonQuoteUnavailable FailReason = "QuoteUnavailable"
	FailReasonOrderRejected    FailReason = "OrderRejected"
	FailReasonSellFailed       FailReason = "SellFailed"
	FailReasonReserveExhausted FailReason = "InsufficientReserveForFees"
)

// Quote is a fresh price observation from one exchange.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	Time  time.Time       `json:"time"`
}

// Fill is the result of an executed order.
type Fill struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Time     time.Time       `json:"time"`
}

// ExecutionRun is one attempt to realize an opportunity. At most one
// non-terminal run exists per opportunity at any time. Snapshots of the
// run cross the engine boundary by value.
type ExecutionRun struct {
	ID            string `json:"id"`
	OpportunityID string `json:"opportunity_id"`
	// OpportunityStatus tracks the accepted opportunity's lifecycle
	// alongside the run: executing while live, then completed, failed
	// or aborted with the run's terminal state.
	OpportunityStatus OpportunityStatus `json:"opportunity_status"`
	Pair              Pair              `json:"pair"`
	BuyExchange       string            `json:"buy_exchange"`
	SellExchange      string            `json:"sell_exchange"`
	Notional          decimal.Decimal   `json:"notional"`
	State             RunState          `json:"state"`
	BuyFill           *Fill             `json:"buy_fill,omitempty"`
	SellFill          *Fill             `json:"sell_fill,omitempty"`
	CurrentSpread     decimal.Decimal   `json:"current_spread"`
	ExitTrigger       ExitTrigger       `json:"exit_trigger,omitempty"`
	FailReason        FailReason        `json:"fail_reason,omitempty"`
	Profit            decimal.Decimal   `json:"profit"`
	ProfitPercent     decimal.Decimal   `json:"profit_percent"`
	// PositionHeld marks a run that failed after the buy with the bought
	// tokens still sitting on the buy exchange, requiring manual
	// resolution. It is never retried automatically.
	PositionHeld bool      `json:"position_held"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the run snapshot.
func (r ExecutionRun) Clone() ExecutionRun {
	out := r
	if r.BuyFill != nil {
		fill := *r.BuyFill
		out.BuyFill = &fill
	}
	if r.SellFill != nil {
		fill := *r.SellFill
		out.SellFill = &fill
	}
	return out
}

// StateChangeEvent is published on every run transition.
type StateChangeEvent struct {
	RunID         string    `json:"run_id"`
	OpportunityID string    `json:"opportunity_id"`
	From          RunState  `json:"from"`
	To            RunState  `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	Time          time.Time `json:"time"`
}
