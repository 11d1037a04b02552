// Package ledger tracks locked vs. available capital per exchange and
// asset, preventing double-commitment of funds across concurrent runs.
package ledger

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
)

var (
	// ErrInsufficientBalance signals that the free balance cannot cover
	// the requested lock.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceBelowLocked signals an adjustment that would drive the
	// total below the locked amount.
	ErrBalanceBelowLocked = errors.New("balance would drop below locked amount")
)

type key struct {
	exchange string
	asset    string
}

// entry carries its own mutex; runs touching different (exchange, asset)
// keys never contend with each other.
type entry struct {
	mu     sync.Mutex
	total  decimal.Decimal
	locked decimal.Decimal
}

// Ledger serializes balance mutations per (exchange, asset) key.
type Ledger struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[key]*entry)}
}

func (l *Ledger) entryFor(exchange, asset string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{exchange: exchange, asset: asset}
	e, ok := l.entries[k]
	if !ok {
		e = &entry{total: decimal.Zero, locked: decimal.Zero}
		l.entries[k] = e
	}
	return e
}

// Deposit credits the total balance.
func (l *Ledger) Deposit(exchange, asset string, amount decimal.Decimal) {
	e := l.entryFor(exchange, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = e.total.Add(amount)
}

// Lock reserves amount out of the free balance. Fails when
// total - locked < amount.
func (l *Ledger) Lock(exchange, asset string, amount decimal.Decimal) error {
	e := l.entryFor(exchange, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	free := e.total.Sub(e.locked)
	if free.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s %s: free %s, requested %s",
			exchange, asset, free, amount)
	}
	e.locked = e.locked.Add(amount)
	return nil
}

// Unlock releases a previously held reservation, capping at the locked
// amount so the locked <= total invariant cannot be broken by a double
// release.
func (l *Ledger) Unlock(exchange, asset string, amount decimal.Decimal) {
	e := l.entryFor(exchange, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.locked = e.locked.Sub(amount)
	if e.locked.IsNegative() {
		e.locked = decimal.Zero
	}
}

// Adjust applies a post-fill balance delta. The delta must not drive
// the total below the currently locked amount.
func (l *Ledger) Adjust(exchange, asset string, delta decimal.Decimal) error {
	e := l.entryFor(exchange, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.total.Add(delta)
	if next.LessThan(e.locked) {
		return errors.Wrapf(ErrBalanceBelowLocked, "%s %s: total %s, locked %s, delta %s",
			exchange, asset, e.total, e.locked, delta)
	}
	e.total = next
	return nil
}

// Balance returns the total and locked balance for the key.
func (l *Ledger) Balance(exchange, asset string) (total, locked decimal.Decimal) {
	e := l.entryFor(exchange, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total, e.locked
}

// Free returns the unlocked balance for the key.
func (l *Ledger) Free(exchange, asset string) decimal.Decimal {
	total, locked := l.Balance(exchange, asset)
	return total.Sub(locked)
}

// Snapshot returns all entries sorted by exchange then asset.
func (l *Ledger) Snapshot() []domain.LedgerEntry {
	l.mu.Lock()
	keys := make([]key, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].exchange != keys[j].exchange {
			return keys[i].exchange < keys[j].exchange
		}
		return keys[i].asset < keys[j].asset
	})

	out := make([]domain.LedgerEntry, 0, len(keys))
	for _, k := range keys {
		e := l.entryFor(k.exchange, k.asset)
		e.mu.Lock()
		out = append(out, domain.LedgerEntry{
			Exchange: k.exchange,
			Asset:    k.asset,
			Total:    e.total,
			Locked:   e.locked,
		})
		e.mu.Unlock()
	}
	return out
}
