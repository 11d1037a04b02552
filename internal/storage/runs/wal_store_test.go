package runs

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/arbi/internal/domain"
)

func terminalRun(id, oppID string, state domain.RunState, startedAt time.Time) domain.ExecutionRun {
	return domain.ExecutionRun{
		ID:            id,
		OpportunityID: oppID,
		Pair:          domain.Pair{Base: "BTC", Quote: "USDT"},
		BuyExchange:   "binance",
		SellExchange:  "bybit",
		Notional:      decimal.NewFromInt(1000),
		State:         state,
		ExitTrigger:   domain.ExitTriggerTarget,
		Profit:        decimal.NewFromInt(30),
		ProfitPercent: decimal.NewFromInt(3),
		StartedAt:     startedAt,
		FinishedAt:    startedAt.Add(time.Minute),
	}
}

func TestSaveAndQuery(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(terminalRun("r1", "opp-1", domain.RunStateSettled, base)))
	require.NoError(t, store.Save(terminalRun("r2", "opp-1", domain.RunStateFailed, base.Add(time.Minute))))
	require.NoError(t, store.Save(terminalRun("r3", "opp-2", domain.RunStateSettled, base.Add(2*time.Minute))))

	got, ok := store.ByID("r2")
	require.True(t, ok)
	assert.Equal(t, domain.RunStateFailed, got.State)

	_, ok = store.ByID("missing")
	assert.False(t, ok)

	byOpp := store.ByOpportunity("opp-1")
	require.Len(t, byOpp, 2)
	assert.Equal(t, "r1", byOpp[0].ID, "oldest first")
	assert.Equal(t, "r2", byOpp[1].ID)

	settled := store.ByState(domain.RunStateSettled)
	require.Len(t, settled, 2)
	assert.Equal(t, "r1", settled[0].ID)
	assert.Equal(t, "r3", settled[1].ID)

	assert.Len(t, store.All(), 3)
}

func TestSaveRejectsNonTerminal(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	run := terminalRun("r1", "opp-1", domain.RunStateMonitoring, time.Now())
	require.Error(t, store.Save(run))

	run.State = domain.RunStateSettled
	run.ID = ""
	require.Error(t, store.Save(run))
}

func TestReplayAfterReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(terminalRun("r1", "opp-1", domain.RunStateSettled, base)))
	require.NoError(t, store.Save(terminalRun("r2", "opp-2", domain.RunStateAborted, base.Add(time.Minute))))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Len(t, reopened.All(), 2)
	got, ok := reopened.ByID("r1")
	require.True(t, ok)
	assert.True(t, got.Profit.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, domain.ExitTriggerTarget, got.ExitTrigger)
}
