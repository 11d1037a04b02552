package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlock(t *testing.T) {
	l := New()
	l.Deposit("binance", "USDT", decimal.NewFromInt(1000))

	require.NoError(t, l.Lock("binance", "USDT", decimal.NewFromInt(600)))
	assert.True(t, l.Free("binance", "USDT").Equal(decimal.NewFromInt(400)))

	// second lock exceeding the free balance must fail
	err := l.Lock("binance", "USDT", decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	l.Unlock("binance", "USDT", decimal.NewFromInt(600))
	assert.True(t, l.Free("binance", "USDT").Equal(decimal.NewFromInt(1000)))
}

func TestLockedNeverExceedsTotal(t *testing.T) {
	l := New()
	l.Deposit("bybit", "USDT", decimal.NewFromInt(100))

	require.NoError(t, l.Lock("bybit", "USDT", decimal.NewFromInt(100)))
	require.ErrorIs(t, l.Lock("bybit", "USDT", decimal.NewFromInt(1)), ErrInsufficientBalance)

	total, locked := l.Balance("bybit", "USDT")
	assert.True(t, locked.LessThanOrEqual(total))
}

func TestDoubleUnlockCapsAtZero(t *testing.T) {
	l := New()
	l.Deposit("binance", "USDT", decimal.NewFromInt(100))
	require.NoError(t, l.Lock("binance", "USDT", decimal.NewFromInt(100)))

	l.Unlock("binance", "USDT", decimal.NewFromInt(100))
	l.Unlock("binance", "USDT", decimal.NewFromInt(100))

	_, locked := l.Balance("binance", "USDT")
	assert.True(t, locked.IsZero())
	assert.True(t, l.Free("binance", "USDT").Equal(decimal.NewFromInt(100)))
}

func TestAdjustRejectsDropBelowLocked(t *testing.T) {
	l := New()
	l.Deposit("binance", "USDT", decimal.NewFromInt(100))
	require.NoError(t, l.Lock("binance", "USDT", decimal.NewFromInt(80)))

	err := l.Adjust("binance", "USDT", decimal.NewFromInt(-30))
	require.ErrorIs(t, err, ErrBalanceBelowLocked)

	require.NoError(t, l.Adjust("binance", "USDT", decimal.NewFromInt(-20)))
	total, locked := l.Balance("binance", "USDT")
	assert.True(t, total.Equal(decimal.NewFromInt(80)))
	assert.True(t, locked.Equal(decimal.NewFromInt(80)))
}

func TestUnknownKeyIsZero(t *testing.T) {
	l := New()
	assert.True(t, l.Free("binance", "BTC").IsZero())
	require.ErrorIs(t, l.Lock("binance", "BTC", decimal.NewFromInt(1)), ErrInsufficientBalance)
}

// concurrent locks for more capital than exists must never over-commit
func TestConcurrentLocks(t *testing.T) {
	l := New()
	l.Deposit("binance", "USDT", decimal.NewFromInt(500))

	const workers = 20
	lockAmount := decimal.NewFromInt(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Lock("binance", "USDT", lockAmount); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	total, locked := l.Balance("binance", "USDT")
	assert.True(t, locked.LessThanOrEqual(total))
	assert.True(t, l.Free("binance", "USDT").IsZero())
}

// runs on different (exchange, asset) keys must not interfere
func TestIndependentKeys(t *testing.T) {
	l := New()
	l.Deposit("binance", "USDT", decimal.NewFromInt(100))
	l.Deposit("bybit", "USDT", decimal.NewFromInt(200))
	l.Deposit("binance", "BTC", decimal.NewFromInt(2))

	require.NoError(t, l.Lock("binance", "USDT", decimal.NewFromInt(100)))

	assert.True(t, l.Free("bybit", "USDT").Equal(decimal.NewFromInt(200)))
	assert.True(t, l.Free("binance", "BTC").Equal(decimal.NewFromInt(2)))
}

func TestSnapshotSorted(t *testing.T) {
	l := New()
	l.Deposit("bybit", "USDT", decimal.NewFromInt(1))
	l.Deposit("binance", "USDT", decimal.NewFromInt(2))
	l.Deposit("binance", "BTC", decimal.NewFromInt(3))

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "binance", snap[0].Exchange)
	assert.Equal(t, "BTC", snap[0].Asset)
	assert.Equal(t, "binance", snap[1].Exchange)
	assert.Equal(t, "USDT", snap[1].Asset)
	assert.Equal(t, "bybit", snap[2].Exchange)
}
