// Package detector discovers cross-exchange arbitrage opportunities by
// polling every configured venue for fresh quotes and comparing them.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/gateway"
	"github.com/vadiminshakov/arbi/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	confidenceBase = decimal.NewFromInt(50)
	confidenceCap  = decimal.NewFromInt(95)
	confidenceGain = decimal.NewFromInt(5)

	notionalFloor = decimal.NewFromInt(100)
	notionalCeil  = decimal.NewFromInt(1000)
	notionalGain  = decimal.NewFromInt(100)
)

// Detector polls the gateway registry on an interval and emits an
// Opportunity whenever the spread between the cheapest and the most
// expensive venue clears the configured minimum.
type Detector struct {
	logger    *zap.Logger
	gateways  *gateway.Registry
	pairs     []domain.Pair
	minSpread decimal.Decimal
	interval  time.Duration
	retrier   *retrier.Retrier

	mu     sync.RWMutex
	latest []domain.Opportunity

	out chan domain.Opportunity
}

// New creates a detector over the registered exchanges.
func New(logger *zap.Logger, gateways *gateway.Registry, pairs []domain.Pair, minSpread decimal.Decimal, interval time.Duration) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		logger:    logger,
		gateways:  gateways,
		pairs:     pairs,
		minSpread: minSpread,
		interval:  interval,
		retrier:   retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(500*time.Millisecond)),
		out:       make(chan domain.Opportunity, 16),
	}
}

// Opportunities is the stream of detected opportunities.
func (d *Detector) Opportunities() <-chan domain.Opportunity {
	return d.out
}

// Latest returns the opportunities found by the most recent scan.
func (d *Detector) Latest() []domain.Opportunity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Opportunity, len(d.latest))
	copy(out, d.latest)
	return out
}

// Run polls until the context is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("detector started",
		zap.Int("pairs", len(d.pairs)),
		zap.Strings("exchanges", d.gateways.Names()),
		zap.String("min_spread", d.minSpread.String()),
		zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			close(d.out)
			return ctx.Err()
		case <-ticker.C:
			found := d.scan(ctx)
			d.mu.Lock()
			d.latest = found
			d.mu.Unlock()

			for _, opp := range found {
				select {
				case d.out <- opp:
				default:
					d.logger.Warn("opportunity dropped, consumer too slow",
						zap.String("pair", opp.Pair.String()))
				}
			}
		}
	}
}

type venueQuote struct {
	exchange string
	price    decimal.Decimal
}

// scan compares all venues per pair and keeps the widest spread.
func (d *Detector) scan(ctx context.Context) []domain.Opportunity {
	var found []domain.Opportunity

	for _, pair := range d.pairs {
		quotes := d.collectQuotes(ctx, pair)
		if len(quotes) < 2 {
			continue
		}

		cheapest, dearest := quotes[0], quotes[0]
		for _, q := range quotes[1:] {
			if q.price.LessThan(cheapest.price) {
				cheapest = q
			}
			if q.price.GreaterThan(dearest.price) {
				dearest = q
			}
		}
		if cheapest.exchange == dearest.exchange {
			continue
		}

		spread := domain.SpreadPercentOf(cheapest.price, dearest.price)
		if spread.LessThanOrEqual(d.minSpread) {
			continue
		}

		opp := domain.Opportunity{
			ID:                  uuid.NewString(),
			Pair:                pair,
			BuyExchange:         cheapest.exchange,
			SellExchange:        dearest.exchange,
			BuyPrice:            cheapest.price,
			SellPrice:           dearest.price,
			SpreadPercent:       spread,
			Confidence:          ConfidenceFor(spread),
			RecommendedNotional: RecommendedNotionalFor(spread),
			Status:              domain.OpportunityPending,
			DetectedAt:          time.Now(),
		}
		found = append(found, opp)

		d.logger.Info("opportunity detected",
			zap.String("pair", pair.String()),
			zap.String("buy", cheapest.exchange),
			zap.String("sell", dearest.exchange),
			zap.String("spread", spread.Round(4).String()))
	}

	return found
}

// collectQuotes fetches the pair's price from every venue concurrently,
// skipping exchanges that fail their bounded retries.
func (d *Detector) collectQuotes(ctx context.Context, pair domain.Pair) []venueQuote {
	names := d.gateways.Names()
	results := make([]venueQuote, len(names))
	ok := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			gw, err := d.gateways.Get(name)
			if err != nil {
				return nil
			}
			quote, err := retrier.DoWithData(d.retrier, gctx, func(ctx context.Context) (domain.Quote, error) {
				return gw.Quote(ctx, pair)
			})
			if err != nil {
				d.logger.Warn("quote failed during scan",
					zap.String("exchange", name),
					zap.String("pair", pair.String()),
					zap.Error(err))
				return nil
			}
			results[i] = venueQuote{exchange: name, price: quote.Price}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]venueQuote, 0, len(names))
	for i := range results {
		if ok[i] {
			quotes = append(quotes, results[i])
		}
	}
	return quotes
}

// ManualSelection builds an opportunity from live quotes for a
// user-chosen venue pair. It carries full confidence and is treated by
// the engine exactly like a detected one.
func (d *Detector) ManualSelection(ctx context.Context, pair domain.Pair, buyExchange, sellExchange string) (domain.Opportunity, error) {
	buyGw, err := d.gateways.Get(buyExchange)
	if err != nil {
		return domain.Opportunity{}, err
	}
	sellGw, err := d.gateways.Get(sellExchange)
	if err != nil {
		return domain.Opportunity{}, err
	}

	buyQuote, err := buyGw.Quote(ctx, pair)
	if err != nil {
		return domain.Opportunity{}, errors.Wrapf(err, "quote from %s", buyExchange)
	}
	sellQuote, err := sellGw.Quote(ctx, pair)
	if err != nil {
		return domain.Opportunity{}, errors.Wrapf(err, "quote from %s", sellExchange)
	}

	spread := domain.SpreadPercentOf(buyQuote.Price, sellQuote.Price)
	return domain.Opportunity{
		ID:                  uuid.NewString(),
		Pair:                pair,
		BuyExchange:         buyExchange,
		SellExchange:        sellExchange,
		BuyPrice:            buyQuote.Price,
		SellPrice:           sellQuote.Price,
		SpreadPercent:       spread,
		Confidence:          decimal.NewFromInt(100),
		RecommendedNotional: notionalFloor,
		ManualSelection:     true,
		Status:              domain.OpportunityPending,
		DetectedAt:          time.Now(),
	}, nil
}

// ConfidenceFor scores a spread: 50 + spread*5, capped at 95.
func ConfidenceFor(spread decimal.Decimal) decimal.Decimal {
	confidence := confidenceBase.Add(spread.Mul(confidenceGain))
	if confidence.GreaterThan(confidenceCap) {
		return confidenceCap
	}
	return confidence
}

// RecommendedNotionalFor sizes a trade by spread, clamped to
// [100, 1000] quote units.
func RecommendedNotionalFor(spread decimal.Decimal) decimal.Decimal {
	notional := spread.Mul(notionalGain)
	if notional.LessThan(notionalFloor) {
		return notionalFloor
	}
	if notional.GreaterThan(notionalCeil) {
		return notionalCeil
	}
	return notional
}
