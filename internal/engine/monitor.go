package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// monitor polls both venues every check interval and decides when the
// position must be sold. Trigger priority is fixed: stop-loss first to
// protect capital, then target, then the forced-exit timeout. Returns
// the trigger that fired, or an error once the bounded quote retries
// are exhausted.
//
// The timeout is measured from the moment monitoring starts using the
// monotonic clock carried by time.Time.
func (r *run) monitor(ctx context.Context) (domain.ExitTrigger, error) {
	started := time.Now()

	ticker := time.NewTicker(r.policy.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// engine shutdown: force the fail-safe sell rather than
			// leaving the position open
			return domain.ExitTriggerManualCancel, nil
		case <-ticker.C:
		}

		// cancellation is cooperative and only observed here, never
		// mid-order
		if r.cancelRequested.Load() {
			return domain.ExitTriggerManualCancel, nil
		}

		spread, err := r.currentSpread(ctx)
		if err != nil {
			return domain.ExitTriggerError, err
		}

		r.setSpread(spread)
		r.logger.Debug("spread check",
			zap.String("spread", spread.Round(4).String()),
			zap.Duration("elapsed", time.Since(started)))

		switch {
		case spread.LessThanOrEqual(r.policy.StopLossSpread):
			return domain.ExitTriggerStopLoss, nil
		case spread.GreaterThanOrEqual(r.policy.TargetSellSpread):
			return domain.ExitTriggerTarget, nil
		case time.Since(started) >= r.policy.MaxWait:
			return domain.ExitTriggerTimeout, nil
		}
	}
}

// currentSpread fetches fresh quotes from both exchanges concurrently
// and computes (sell - buy) / buy * 100. Each fetch retries a small
// bounded number of times before the failure is surfaced; a transient
// quote failure does not abort the position.
func (r *run) currentSpread(ctx context.Context) (decimal.Decimal, error) {
	var buyQuote, sellQuote domain.Quote

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := retrier.DoWithData(r.coord.retrier, gctx, func(ctx context.Context) (domain.Quote, error) {
			return r.buyGw.Quote(ctx, r.opp.Pair)
		})
		if err != nil {
			return errors.Wrapf(err, "quote from %s", r.opp.BuyExchange)
		}
		buyQuote = q
		return nil
	})
	g.Go(func() error {
		q, err := retrier.DoWithData(r.coord.retrier, gctx, func(ctx context.Context) (domain.Quote, error) {
			return r.sellGw.Quote(ctx, r.opp.Pair)
		})
		if err != nil {
			return errors.Wrapf(err, "quote from %s", r.opp.SellExchange)
		}
		sellQuote = q
		return nil
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}

	return domain.SpreadPercentOf(buyQuote.Price, sellQuote.Price), nil
}
