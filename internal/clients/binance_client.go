package clients

import (
	"github.com/adshao/go-binance/v2"
)

func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBinancePublicClient creates an unauthenticated client for public
// market data, used as the price source of simulated venues.
func NewBinancePublicClient() *binance.Client {
	return binance.NewClient("", "")
}
