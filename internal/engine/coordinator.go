// Package engine turns accepted arbitrage opportunities into completed
// or aborted trades under a fail-safe exit policy.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/gateway"
	"github.com/vadiminshakov/arbi/internal/ledger"
	"github.com/vadiminshakov/arbi/pkg/retrier"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateActiveRun signals the opportunity already has a
	// non-terminal run.
	ErrDuplicateActiveRun = errors.New("opportunity already has an active run")
	// ErrInvalidPolicy signals a fail-safe policy violating its invariants.
	ErrInvalidPolicy = errors.New("invalid fail-safe policy")
	// ErrInvalidOpportunity signals a malformed opportunity submission.
	ErrInvalidOpportunity = errors.New("invalid opportunity")
	// ErrInsufficientCapital signals the ledger cannot lock the notional.
	ErrInsufficientCapital = errors.New("insufficient capital")
	// ErrRunNotFound signals an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)

const eventBufferSize = 64

// Archiver persists one immutable record per terminal run.
type Archiver interface {
	Save(run domain.ExecutionRun) error
}

// Coordinator accepts opportunities, enforces at-most-one active run
// per opportunity, supervises the state machines and exposes
// status/cancel operations plus a state-change event stream.
type Coordinator struct {
	logger   *zap.Logger
	gateways *gateway.Registry
	ledger   *ledger.Ledger
	archive  Archiver
	retrier  *retrier.Retrier
	feeAsset string

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.Mutex
	runs        map[string]*run
	activeByOpp map[string]string

	subMu       sync.Mutex
	subscribers map[chan domain.StateChangeEvent]struct{}
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithArchiver sets the terminal-run archive.
func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archive = a }
}

// WithQuoteRetrier overrides the bounded retrier used for monitor
// quote fetches.
func WithQuoteRetrier(r *retrier.Retrier) Option {
	return func(c *Coordinator) { c.retrier = r }
}

// WithFeeAsset sets the native asset checked against the policy's
// fee-reserve floor, e.g. BNB.
func WithFeeAsset(asset string) Option {
	return func(c *Coordinator) { c.feeAsset = asset }
}

// NewCoordinator creates a coordinator over the given gateways and ledger.
func NewCoordinator(logger *zap.Logger, gateways *gateway.Registry, capital *ledger.Ledger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:      logger,
		gateways:    gateways,
		ledger:      capital,
		retrier:     retrier.New(retrier.WithMaxRetries(3), retrier.WithInitialInterval(500*time.Millisecond)),
		runCtx:      ctx,
		runCancel:   cancel,
		runs:        make(map[string]*run),
		activeByOpp: make(map[string]string),
		subscribers: make(map[chan domain.StateChangeEvent]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates the opportunity and policy, locks capital for the
// notional on the buy exchange and starts the execution state machine.
func (c *Coordinator) Submit(_ context.Context, opp domain.Opportunity, policy domain.FailSafePolicy) (string, error) {
	if err := policy.Validate(); err != nil {
		return "", errors.Wrap(ErrInvalidPolicy, err.Error())
	}
	if err := validateOpportunity(opp); err != nil {
		return "", err
	}

	buyGw, err := c.gateways.Get(opp.BuyExchange)
	if err != nil {
		return "", errors.Wrap(ErrInvalidOpportunity, err.Error())
	}
	sellGw, err := c.gateways.Get(opp.SellExchange)
	if err != nil {
		return "", errors.Wrap(ErrInvalidOpportunity, err.Error())
	}

	// duplicate check, capital lock and run registration happen under
	// one critical section so two submits for the same opportunity
	// cannot interleave
	c.mu.Lock()
	if runID, ok := c.activeByOpp[opp.ID]; ok {
		c.mu.Unlock()
		return "", errors.Wrapf(ErrDuplicateActiveRun, "run %s", runID)
	}

	if err := c.ledger.Lock(opp.BuyExchange, opp.Pair.Quote, opp.RecommendedNotional); err != nil {
		c.mu.Unlock()
		return "", errors.Wrap(ErrInsufficientCapital, err.Error())
	}

	r := newRun(c, opp, policy, buyGw, sellGw)
	c.runs[r.id] = r
	c.activeByOpp[opp.ID] = r.id
	c.mu.Unlock()

	c.logger.Info("run accepted",
		zap.String("run_id", r.id),
		zap.String("opportunity_id", opp.ID),
		zap.String("pair", opp.Pair.String()),
		zap.String("buy_exchange", opp.BuyExchange),
		zap.String("sell_exchange", opp.SellExchange),
		zap.String("notional", opp.RecommendedNotional.String()),
		zap.Bool("live", policy.LiveMode))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r.execute(c.runCtx)
	}()

	return r.id, nil
}

func validateOpportunity(opp domain.Opportunity) error {
	if opp.ID == "" {
		return errors.Wrap(ErrInvalidOpportunity, "opportunity id is required")
	}
	if opp.Pair.Base == "" || opp.Pair.Quote == "" {
		return errors.Wrap(ErrInvalidOpportunity, "pair is required")
	}
	if opp.BuyExchange == "" || opp.SellExchange == "" {
		return errors.Wrap(ErrInvalidOpportunity, "buy and sell exchanges are required")
	}
	if opp.BuyExchange == opp.SellExchange {
		return errors.Wrap(ErrInvalidOpportunity, "buy and sell exchanges must differ")
	}
	if !opp.RecommendedNotional.IsPositive() {
		return errors.Wrap(ErrInvalidOpportunity, "notional must be positive")
	}
	return nil
}

// Cancel requests cooperative cancellation. The flag is honored only
// before the buy order is placed and at monitor loop boundaries; it
// never interrupts an in-flight order.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	r, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrRunNotFound, runID)
	}
	r.requestCancel()
	return nil
}

// Status returns the latest consistent snapshot of the run. It never
// blocks on in-flight exchange I/O.
func (c *Coordinator) Status(runID string) (domain.ExecutionRun, error) {
	c.mu.Lock()
	r, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return domain.ExecutionRun{}, errors.Wrap(ErrRunNotFound, runID)
	}
	return r.Snapshot(), nil
}

// Runs returns snapshots of every tracked run, newest first.
func (c *Coordinator) Runs() []domain.ExecutionRun {
	c.mu.Lock()
	out := make([]domain.ExecutionRun, 0, len(c.runs))
	for _, r := range c.runs {
		out = append(out, r.Snapshot())
	}
	c.mu.Unlock()

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].StartedAt.After(out[i].StartedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Subscribe registers a buffered event channel. The returned function
// unsubscribes and closes the channel.
func (c *Coordinator) Subscribe() (<-chan domain.StateChangeEvent, func()) {
	ch := make(chan domain.StateChangeEvent, eventBufferSize)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

// publish broadcasts the event without blocking; slow consumers lose
// events rather than stalling a run.
func (c *Coordinator) publish(event domain.StateChangeEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// runFinished releases the opportunity's active-run slot and archives
// the terminal record.
func (c *Coordinator) runFinished(r *run) {
	snapshot := r.Snapshot()

	c.mu.Lock()
	if c.activeByOpp[snapshot.OpportunityID] == snapshot.ID {
		delete(c.activeByOpp, snapshot.OpportunityID)
	}
	c.mu.Unlock()

	if c.archive == nil {
		return
	}
	if err := c.archive.Save(snapshot); err != nil {
		c.logger.Error("failed to archive run",
			zap.String("run_id", snapshot.ID),
			zap.Error(err))
		return
	}

	// archived runs leave the live table so it stays bounded; status
	// lookups for them go to the archive
	c.mu.Lock()
	delete(c.runs, snapshot.ID)
	c.mu.Unlock()
}

// Close cancels every in-flight run and waits for the state machines
// to finish their fail-safe exits.
func (c *Coordinator) Close() {
	c.runCancel()
	c.wg.Wait()
}
