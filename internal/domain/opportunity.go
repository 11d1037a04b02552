package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpportunityStatus is the lifecycle status of a detected opportunity.
type OpportunityStatus string

const (
	OpportunityPending   OpportunityStatus = "pending"
	OpportunityExecuting OpportunityStatus = "executing"
	OpportunityCompleted OpportunityStatus = "completed"
	OpportunityFailed    OpportunityStatus = "failed"
	OpportunityAborted   OpportunityStatus = "aborted"
)

// OpportunityStatusFor maps a run state onto the opportunity lifecycle:
// an accepted opportunity is executing until its run terminates.
func OpportunityStatusFor(s RunState) OpportunityStatus {
	switch s {
	case RunStateSettled:
		return OpportunityCompleted
	case RunStateFailed:
		return OpportunityFailed
	case RunStateAborted:
		return OpportunityAborted
	}
	return OpportunityExecuting
}

// Opportunity is a detected or manually selected cross-exchange price
// spread for a token. The engine treats every submission identically
// regardless of origin.
type Opportunity struct {
	ID                  string            `json:"id"`
	Pair                Pair              `json:"pair"`
	BuyExchange         string            `json:"buy_exchange"`
	SellExchange        string            `json:"sell_exchange"`
	BuyPrice            decimal.Decimal   `json:"buy_price"`
	SellPrice           decimal.Decimal   `json:"sell_price"`
	SpreadPercent       decimal.Decimal   `json:"spread_percent"`
	Confidence          decimal.Decimal   `json:"confidence"`
	RecommendedNotional decimal.Decimal   `json:"recommended_notional"`
	ManualSelection     bool              `json:"manual_selection"`
	Status              OpportunityStatus `json:"status"`
	DetectedAt          time.Time         `json:"detected_at"`
}

// SpreadPercentOf computes the spread percent between two venue prices:
// (sell - buy) / buy * 100.
func SpreadPercentOf(buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	if buyPrice.IsZero() {
		return decimal.Zero
	}
	return sellPrice.Sub(buyPrice).Div(buyPrice).Mul(decimal.NewFromInt(100))
}
