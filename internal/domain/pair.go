// Package domain defines the core data structures of the arbitrage engine.
package domain

import "fmt"

// Pair is a token traded against a quote asset, e.g. PEPE_USDT.
type Pair struct {
	// Base token symbol.
	Base string `json:"base"`
	// Quote asset symbol.
	Quote string `json:"quote"`
}

// String returns the underscore-separated representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.Base, p.Quote)
}

// Symbol returns the concatenated exchange symbol representation.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.Base, p.Quote)
}
