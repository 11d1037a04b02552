package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
)

// BinanceGateway serves quotes and market orders via the Binance spot API.
type BinanceGateway struct {
	client *binance.Client
}

func NewBinanceGateway(client *binance.Client) *BinanceGateway {
	return &BinanceGateway{client: client}
}

func (g *BinanceGateway) Name() string { return "binance" }

func (g *BinanceGateway) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	prices, err := g.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if len(prices) == 0 {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "binance returned empty prices for %s", pair.String())
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if !price.IsPositive() {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "binance returned non-positive price %s for %s", price, pair.String())
	}
	return domain.Quote{Price: price, Time: time.Now()}, nil
}

func (g *BinanceGateway) PlaceOrder(ctx context.Context, pair domain.Pair, side Side, quantity decimal.Decimal) (domain.Fill, error) {
	binanceSide := binance.SideTypeBuy
	if side == SideSell {
		binanceSide = binance.SideTypeSell
	}

	res, err := g.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binanceSide).Type(binance.OrderTypeMarket).
		Quantity(quantity.RoundFloor(8).String()).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "insufficient balance") {
			return domain.Fill{}, errors.Wrap(ErrInsufficientExchangeBalance, err.Error())
		}
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, err.Error())
	}

	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil || executed.IsZero() {
		return domain.Fill{}, errors.Wrapf(ErrOrderRejected, "binance order %d reported no executed quantity", res.OrderID)
	}

	// average fill price from cumulative quote value; market orders may
	// execute across several book levels
	cumQuote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return domain.Fill{}, errors.Wrap(ErrOrderRejected, err.Error())
	}

	return domain.Fill{
		Price:    cumQuote.Div(executed),
		Quantity: executed,
		Time:     time.Now(),
	}, nil
}
