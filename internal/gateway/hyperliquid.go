package gateway

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/arbi/internal/domain"
)

// orders emulate market execution with an IOC limit at a slipped price
const hyperliquidMarketSlippage = 0.005

// HyperliquidGateway serves quotes via the public Info API and places
// IOC orders through the signed Exchange client.
type HyperliquidGateway struct {
	ex   *hyperliquid.Exchange
	info *hyperliquid.Info
}

func NewHyperliquidGateway(ex *hyperliquid.Exchange) (*HyperliquidGateway, error) {
	if ex == nil {
		return nil, errors.New("hyperliquid exchange is nil")
	}
	return &HyperliquidGateway{ex: ex, info: ex.Info()}, nil
}

func (g *HyperliquidGateway) Name() string { return "hyperliquid" }

func (g *HyperliquidGateway) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	mids, err := g.info.AllMids(ctx)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}

	// mids are keyed by base coin, e.g. "BTC"
	mid, ok := mids[pair.Base]
	if !ok || mid == "" {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "hyperliquid returned empty mid price for %s", pair.Base)
	}

	price, err := decimal.NewFromString(mid)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if !price.IsPositive() {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "hyperliquid returned non-positive price %s for %s", price, pair.Base)
	}
	return domain.Quote{Price: price, Time: time.Now()}, nil
}

func (g *HyperliquidGateway) PlaceOrder(ctx context.Context, pair domain.Pair, side Side, quantity decimal.Decimal) (domain.Fill, error) {
	isBuy := side == SideBuy
	size, _ := quantity.Round(8).Float64()

	px, err := g.ex.SlippagePrice(ctx, pair.Base, isBuy, hyperliquidMarketSlippage, nil)
	if err != nil {
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, err.Error())
	}

	req := hyperliquid.CreateOrderRequest{
		Coin:  pair.Base,
		IsBuy: isBuy,
		Price: px,
		Size:  size,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}
	if _, err := g.ex.Order(ctx, req, nil); err != nil {
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, err.Error())
	}

	return domain.Fill{
		Price:    decimal.NewFromFloat(px),
		Quantity: quantity,
		Time:     time.Now(),
	}, nil
}
