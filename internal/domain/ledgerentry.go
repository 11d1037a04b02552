package domain

import "github.com/shopspring/decimal"

// LedgerEntry is a snapshot of the capital tracked for one exchange
// and asset. Locked never exceeds Total.
type LedgerEntry struct {
	Exchange string          `json:"exchange"`
	Asset    string          `json:"asset"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
}
