package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/gateway"
	"go.uber.org/zap"
)

// sellTimeout bounds the fail-safe sell issued while the engine is
// shutting down and the run context is already cancelled.
const sellTimeout = 30 * time.Second

var hundred = decimal.NewFromInt(100)

// run owns one ExecutionRun from acceptance through settlement. All
// state transitions execute sequentially on the run's own goroutine;
// the snapshot is the only shared surface and is guarded by mu.
type run struct {
	id     string
	coord  *Coordinator
	logger *zap.Logger
	opp    domain.Opportunity
	policy domain.FailSafePolicy
	buyGw  gateway.Gateway
	sellGw gateway.Gateway

	mu       sync.RWMutex
	snapshot domain.ExecutionRun

	cancelRequested atomic.Bool
}

func newRun(c *Coordinator, opp domain.Opportunity, policy domain.FailSafePolicy, buyGw, sellGw gateway.Gateway) *run {
	id := uuid.NewString()
	r := &run{
		id:     id,
		coord:  c,
		logger: c.logger.With(zap.String("run_id", id), zap.String("pair", opp.Pair.String())),
		opp:    opp,
		policy: policy,
		buyGw:  buyGw,
		sellGw: sellGw,
		snapshot: domain.ExecutionRun{
			ID:                id,
			OpportunityID:     opp.ID,
			OpportunityStatus: domain.OpportunityExecuting,
			Pair:              opp.Pair,
			BuyExchange:       opp.BuyExchange,
			SellExchange:      opp.SellExchange,
			Notional:          opp.RecommendedNotional,
			State:             domain.RunStatePendingBuy,
			Profit:            decimal.Zero,
			ProfitPercent:     decimal.Zero,
			CurrentSpread:     decimal.Zero,
			StartedAt:         time.Now(),
		},
	}
	return r
}

func (r *run) requestCancel() {
	r.cancelRequested.Store(true)
}

// Snapshot returns a consistent copy of the run state.
func (r *run) Snapshot() domain.ExecutionRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// execute drives the state machine to a terminal state. It is the only
// goroutine mutating the run.
func (r *run) execute(ctx context.Context) {
	// before the buy order is placed nothing irreversible happened, so
	// cancellation here aborts outright
	if r.cancelRequested.Load() {
		r.releaseLock()
		r.finish(domain.RunStateAborted, domain.ExitTriggerManualCancel, domain.FailReasonNone, "cancelled before buy")
		return
	}

	if err := r.checkFeeReserve(); err != nil {
		r.releaseLock()
		r.fail(domain.FailReasonReserveExhausted, err)
		return
	}

	r.transition(domain.RunStateBuying, "")

	buyFill, err := r.executeBuy(ctx)
	if err != nil {
		r.releaseLock()
		r.fail(classifyGatewayError(err), err)
		return
	}

	r.setBuyFill(buyFill)
	r.settleBuyAccounting(buyFill)

	r.transition(domain.RunStateMonitoring, "")

	trigger, err := r.monitor(ctx)
	if err != nil {
		// the position is already held; surface it for manual resolution
		r.markPositionHeld()
		r.fail(classifyGatewayError(err), err)
		return
	}

	r.transition(domain.RunStateSelling, string(trigger))

	sellCtx := ctx
	if ctx.Err() != nil {
		// shutdown while holding a position still means sell, not hold
		var cancel context.CancelFunc
		sellCtx, cancel = context.WithTimeout(context.Background(), sellTimeout)
		defer cancel()
	}

	sellFill, err := r.executeSell(sellCtx)
	if err != nil {
		r.markPositionHeld()
		r.fail(domain.FailReasonSellFailed, err)
		return
	}

	r.settle(trigger, sellFill)
}

// checkFeeReserve halts trading when the native fee asset on the buy
// exchange has dropped below the policy floor.
func (r *run) checkFeeReserve() error {
	if !r.policy.MinReserveForFees.IsPositive() || r.coord.feeAsset == "" {
		return nil
	}
	reserve := r.coord.ledger.Free(r.opp.BuyExchange, r.coord.feeAsset)
	if reserve.LessThan(r.policy.MinReserveForFees) {
		return errors.Errorf("%s reserve %s below floor %s on %s",
			r.coord.feeAsset, reserve, r.policy.MinReserveForFees, r.opp.BuyExchange)
	}
	return nil
}

// executeBuy re-quotes the buy exchange and fills the committed
// notional. The engine never trades on the prices recorded at
// detection time.
func (r *run) executeBuy(ctx context.Context) (domain.Fill, error) {
	quote, err := r.buyGw.Quote(ctx, r.opp.Pair)
	if err != nil {
		return domain.Fill{}, errors.Wrap(err, "buy quote")
	}
	// a non-positive price would divide by zero below; treat it as a
	// broken quote
	if !quote.Price.IsPositive() {
		return domain.Fill{}, errors.Wrapf(gateway.ErrQuoteUnavailable,
			"buy quote price %s from %s", quote.Price, r.opp.BuyExchange)
	}

	quantity := r.opp.RecommendedNotional.Div(quote.Price)

	if !r.policy.LiveMode {
		return domain.Fill{Price: quote.Price, Quantity: quantity, Time: quote.Time}, nil
	}

	fill, err := r.buyGw.PlaceOrder(ctx, r.opp.Pair, gateway.SideBuy, quantity)
	if err != nil {
		return domain.Fill{}, errors.Wrap(err, "buy order")
	}

	deviation := fill.Price.Sub(quote.Price).Abs().Div(quote.Price).Mul(hundred)
	if deviation.GreaterThan(r.policy.SlippageTolerance) {
		return domain.Fill{}, errors.Wrapf(errSlippage, "buy fill %s deviates %s%% from quote %s (tolerance %s%%)",
			fill.Price, deviation.Round(4), quote.Price, r.policy.SlippageTolerance)
	}

	return fill, nil
}

// settleBuyAccounting releases the capital reservation (the position
// is now held, not reserved) and applies the real balance movements.
func (r *run) settleBuyAccounting(fill domain.Fill) {
	led := r.coord.ledger
	led.Unlock(r.opp.BuyExchange, r.opp.Pair.Quote, r.opp.RecommendedNotional)

	buyCost := fill.Price.Mul(fill.Quantity)
	if err := led.Adjust(r.opp.BuyExchange, r.opp.Pair.Quote, buyCost.Neg()); err != nil {
		r.logger.Warn("buy-side quote adjustment failed", zap.Error(err))
	}
	if err := led.Adjust(r.opp.BuyExchange, r.opp.Pair.Base, fill.Quantity); err != nil {
		r.logger.Warn("buy-side base adjustment failed", zap.Error(err))
	}
}

// executeSell sells the full bought quantity on the sell exchange.
func (r *run) executeSell(ctx context.Context) (domain.Fill, error) {
	quantity := r.boughtQuantity()

	if !r.policy.LiveMode {
		quote, err := r.sellGw.Quote(ctx, r.opp.Pair)
		if err != nil {
			return domain.Fill{}, errors.Wrap(err, "sell quote")
		}
		return domain.Fill{Price: quote.Price, Quantity: quantity, Time: quote.Time}, nil
	}

	fill, err := r.sellGw.PlaceOrder(ctx, r.opp.Pair, gateway.SideSell, quantity)
	if err != nil {
		return domain.Fill{}, errors.Wrap(err, "sell order")
	}
	return fill, nil
}

// settle records the sell fill, reconciles the ledger and finishes
// the run. Stop-loss and timeout exits settle like target exits; the
// trigger is retained for audit.
func (r *run) settle(trigger domain.ExitTrigger, fill domain.Fill) {
	led := r.coord.ledger
	sellValue := fill.Price.Mul(fill.Quantity)

	if err := led.Adjust(r.opp.SellExchange, r.opp.Pair.Quote, sellValue); err != nil {
		r.logger.Warn("sell-side quote adjustment failed", zap.Error(err))
	}
	if err := led.Adjust(r.opp.BuyExchange, r.opp.Pair.Base, fill.Quantity.Neg()); err != nil {
		r.logger.Warn("sell-side base adjustment failed", zap.Error(err))
	}

	notional := r.opp.RecommendedNotional
	profit := sellValue.Sub(notional)
	profitPercent := profit.Div(notional).Mul(hundred)

	r.mu.Lock()
	r.snapshot.SellFill = &fill
	r.snapshot.Profit = profit
	r.snapshot.ProfitPercent = profitPercent
	r.mu.Unlock()

	r.logger.Info("run settled",
		zap.String("trigger", string(trigger)),
		zap.String("sell_price", fill.Price.String()),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("profit", profit.String()),
		zap.String("profit_percent", profitPercent.Round(4).String()))

	r.finish(domain.RunStateSettled, trigger, domain.FailReasonNone, "")
}

func (r *run) fail(reason domain.FailReason, err error) {
	r.logger.Error("run failed",
		zap.String("reason", string(reason)),
		zap.Error(err))
	r.finish(domain.RunStateFailed, domain.ExitTriggerError, reason, err.Error())
}

func (r *run) releaseLock() {
	r.coord.ledger.Unlock(r.opp.BuyExchange, r.opp.Pair.Quote, r.opp.RecommendedNotional)
}

func (r *run) setBuyFill(fill domain.Fill) {
	r.mu.Lock()
	r.snapshot.BuyFill = &fill
	r.mu.Unlock()
}

func (r *run) boughtQuantity() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot.BuyFill == nil {
		return decimal.Zero
	}
	return r.snapshot.BuyFill.Quantity
}

func (r *run) setSpread(spread decimal.Decimal) {
	r.mu.Lock()
	r.snapshot.CurrentSpread = spread
	r.mu.Unlock()
}

func (r *run) markPositionHeld() {
	r.mu.Lock()
	r.snapshot.PositionHeld = true
	r.mu.Unlock()
}

// transition moves the run to a non-terminal state and publishes the
// change.
func (r *run) transition(to domain.RunState, reason string) {
	r.mu.Lock()
	from := r.snapshot.State
	r.snapshot.State = to
	r.mu.Unlock()

	r.publishTransition(from, to, reason)
}

// finish moves the run to a terminal state, publishes the change and
// hands the record to the coordinator for archival.
func (r *run) finish(to domain.RunState, trigger domain.ExitTrigger, reason domain.FailReason, detail string) {
	r.mu.Lock()
	from := r.snapshot.State
	r.snapshot.State = to
	r.snapshot.OpportunityStatus = domain.OpportunityStatusFor(to)
	r.snapshot.ExitTrigger = trigger
	r.snapshot.FailReason = reason
	r.snapshot.FinishedAt = time.Now()
	r.mu.Unlock()

	eventReason := detail
	if eventReason == "" {
		eventReason = string(trigger)
	}
	r.publishTransition(from, to, eventReason)
	r.coord.runFinished(r)
}

func (r *run) publishTransition(from, to domain.RunState, reason string) {
	r.logger.Info("state transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason))

	r.coord.publish(domain.StateChangeEvent{
		RunID:         r.id,
		OpportunityID: r.opp.ID,
		From:          from,
		To:            to,
		Reason:        reason,
		Time:          time.Now(),
	})
}

var errSlippage = errors.New("slippage exceeded")

// classifyGatewayError maps an error chain onto the failure taxonomy.
func classifyGatewayError(err error) domain.FailReason {
	switch {
	case errors.Is(err, errSlippage):
		return domain.FailReasonSlippageExceeded
	case errors.Is(err, gateway.ErrQuoteUnavailable):
		return domain.FailReasonQuoteUnavailable
	default:
		return domain.FailReasonOrderRejected
	}
}
