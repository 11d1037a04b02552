package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
	"go.uber.org/zap"
)

// PriceSource supplies the market price a simulated venue trades at.
type PriceSource func(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)

// SimulateGateway is an exchange stub that fills market orders at its
// own current quote with zero latency. An optional per-pair price
// offset lets two simulated venues disagree, which is what produces a
// spread to arbitrage in dry runs.
type SimulateGateway struct {
	mu     sync.RWMutex
	name   string
	source PriceSource
	offset decimal.Decimal // percent applied to the source price
	logger *zap.Logger
}

func NewSimulateGateway(name string, source PriceSource, offsetPercent decimal.Decimal, logger *zap.Logger) (*SimulateGateway, error) {
	if source == nil {
		return nil, errors.New("price source is required for simulate gateway")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulateGateway{name: name, source: source, offset: offsetPercent, logger: logger}, nil
}

func (g *SimulateGateway) Name() string { return g.name }

// SetOffset changes the percent price offset applied on top of the source.
func (g *SimulateGateway) SetOffset(offsetPercent decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offset = offsetPercent
}

func (g *SimulateGateway) Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error) {
	price, err := g.source(ctx, pair)
	if err != nil {
		return domain.Quote{}, errors.Wrap(ErrQuoteUnavailable, err.Error())
	}

	g.mu.RLock()
	offset := g.offset
	g.mu.RUnlock()

	price = price.Add(price.Mul(offset).Div(decimal.NewFromInt(100)))
	if !price.IsPositive() {
		return domain.Quote{}, errors.Wrapf(ErrQuoteUnavailable, "simulated price %s for %s is not positive", price, pair.String())
	}
	return domain.Quote{Price: price, Time: time.Now()}, nil
}

func (g *SimulateGateway) PlaceOrder(ctx context.Context, pair domain.Pair, side Side, quantity decimal.Decimal) (domain.Fill, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return domain.Fill{}, errors.Wrapf(ErrOrderRejected, "order quantity must be positive, got %s", quantity)
	}

	quote, err := g.Quote(ctx, pair)
	if err != nil {
		return domain.Fill{}, err
	}

	g.logger.Info("simulated order filled",
		zap.String("exchange", g.name),
		zap.String("pair", pair.String()),
		zap.String("side", string(side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", quote.Price.String()))

	return domain.Fill{Price: quote.Price, Quantity: quantity, Time: time.Now()}, nil
}
