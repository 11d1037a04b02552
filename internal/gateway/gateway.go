// Package gateway abstracts exchange access behind a quote and order
// placement capability, one instance per exchange.
package gateway

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
)

var (
	// ErrQuoteUnavailable signals a failed or empty price fetch.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrOrderRejected signals the exchange refused the order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrInsufficientExchangeBalance signals the exchange-side balance
	// cannot cover the order.
	ErrInsufficientExchangeBalance = errors.New("insufficient exchange balance")
	// ErrUnknownExchange signals a lookup for an unregistered exchange.
	ErrUnknownExchange = errors.New("unknown exchange")
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Gateway is the capability the engine consumes: fresh quotes and
// market order placement on a single exchange.
type Gateway interface {
	// Name returns the exchange identifier, lowercase.
	Name() string
	// Quote fetches the current price for the pair.
	Quote(ctx context.Context, pair domain.Pair) (domain.Quote, error)
	// PlaceOrder executes a market order for the given base quantity
	// and returns the realized fill.
	PlaceOrder(ctx context.Context, pair domain.Pair, side Side, quantity decimal.Decimal) (domain.Fill, error)
}

// Registry holds the configured gateways keyed by exchange name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register adds a gateway under its own name.
func (r *Registry) Register(gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(gw.Name())] = gw
}

// Get returns the gateway for the exchange name.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, errors.Wrap(ErrUnknownExchange, name)
	}
	return gw, nil
}

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
