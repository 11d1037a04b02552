package gateway

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
)

// BybitGateway serves quotes and market orders via the Bybit V5 spot API.
type BybitGateway struct {
	client *bybit.Client
}

func NewBybitGateway(client *bybit.Client) *BybitGateway {
	return &BybitGateway{client: client}
}

func (g *BybitGateway) Name() string { return "bybit" }

func (g *BybitGateway) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	symbol := bybit.SymbolV5(pair.Symbol())

	result, err := g.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if len(result.Result.Spot.List) == 0 {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "bybit returned empty prices for %s", pair.String())
	}

	price, err := decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if !price.IsPositive() {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "bybit returned non-positive price %s for %s", price, pair.String())
	}
	return domain.Quote{Price: price, Time: time.Now()}, nil
}

func (g *BybitGateway) PlaceOrder(ctx context.Context, pair domain.Pair, side Side, quantity decimal.Decimal) (domain.Fill, error) {
	bybitSide := bybit.SideBuy
	if side == SideSell {
		bybitSide = bybit.SideSell
	}

	quantity = quantity.RoundFloor(4)
	_, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(pair.Symbol()),
		Side:      bybitSide,
		OrderType: bybit.OrderTypeMarket,
		Qty:       quantity.String(),
	})
	if err != nil {
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, err.Error())
	}

	// bybit's create response carries no fill data; a market order on a
	// liquid spot book executes at the last traded price within ticks
	quote, qErr := g.Quote(ctx, pair)
	if qErr != nil {
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, "order placed but fill price unknown")
	}

	return domain.Fill{
		Price:    quote.Price,
		Quantity: quantity,
		Time:     time.Now(),
	}, nil
}
