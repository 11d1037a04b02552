package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/engine"
	"go.uber.org/zap"
)

type fakeCoordinator struct {
	submitID   string
	submitErr  error
	lastPolicy domain.FailSafePolicy
	cancelled  []string
	statusRun  domain.ExecutionRun
	statusErr  error
	runs       []domain.ExecutionRun
	events     chan domain.StateChangeEvent
}

func (f *fakeCoordinator) Submit(_ context.Context, _ domain.Opportunity, policy domain.FailSafePolicy) (string, error) {
	f.lastPolicy = policy
	return f.submitID, f.submitErr
}

func (f *fakeCoordinator) Cancel(runID string) error {
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeCoordinator) Status(string) (domain.ExecutionRun, error) {
	return f.statusRun, f.statusErr
}

func (f *fakeCoordinator) Runs() []domain.ExecutionRun { return f.runs }

func (f *fakeCoordinator) Subscribe() (<-chan domain.StateChangeEvent, func()) {
	return f.events, func() {}
}

type fakeArchive struct {
	byID map[string]domain.ExecutionRun
	all  []domain.ExecutionRun
}

func (f *fakeArchive) ByID(id string) (domain.ExecutionRun, bool) {
	run, ok := f.byID[id]
	return run, ok
}

func (f *fakeArchive) ByOpportunity(oppID string) []domain.ExecutionRun {
	var out []domain.ExecutionRun
	for _, r := range f.all {
		if r.OpportunityID == oppID {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeArchive) ByState(state domain.RunState) []domain.ExecutionRun {
	var out []domain.ExecutionRun
	for _, r := range f.all {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeArchive) All() []domain.ExecutionRun { return f.all }

type fakeOpportunities struct {
	latest    []domain.Opportunity
	manual    domain.Opportunity
	manualErr error
}

func (f *fakeOpportunities) Latest() []domain.Opportunity { return f.latest }

func (f *fakeOpportunities) ManualSelection(_ context.Context, _ domain.Pair, _, _ string) (domain.Opportunity, error) {
	return f.manual, f.manualErr
}

type fakeLedger struct {
	entries []domain.LedgerEntry
}

func (f *fakeLedger) Snapshot() []domain.LedgerEntry { return f.entries }

func testServer(coord *fakeCoordinator, archive *fakeArchive) *Server {
	if archive == nil {
		archive = &fakeArchive{byID: map[string]domain.ExecutionRun{}}
	}
	return NewServer(":0", coord, archive, &fakeOpportunities{}, &fakeLedger{}, zap.NewNop())
}

func TestHealth(t *testing.T) {
	s := testServer(&fakeCoordinator{}, nil)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStats(t *testing.T) {
	coord := &fakeCoordinator{runs: []domain.ExecutionRun{
		{ID: "a", State: domain.RunStateMonitoring},
		{ID: "b", State: domain.RunStateSettled},
	}}
	archive := &fakeArchive{
		byID: map[string]domain.ExecutionRun{},
		all: []domain.ExecutionRun{
			{ID: "x", State: domain.RunStateSettled},
			{ID: "y", State: domain.RunStateSettled},
			{ID: "z", State: domain.RunStateFailed},
		},
	}
	s := testServer(coord, archive)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ActiveRuns   int            `json:"active_runs"`
		ArchivedRuns map[string]int `json:"archived_runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ActiveRuns)
	assert.Equal(t, 2, body.ArchivedRuns["SETTLED"])
	assert.Equal(t, 1, body.ArchivedRuns["FAILED"])
}

func TestSubmitRun(t *testing.T) {
	coord := &fakeCoordinator{submitID: "run-42"}
	s := testServer(coord, nil)

	payload := map[string]any{
		"opportunity": map[string]any{
			"id":                   "opp-1",
			"pair":                 map[string]string{"base": "BTC", "quote": "USDT"},
			"buy_exchange":         "binance",
			"sell_exchange":        "bybit",
			"recommended_notional": "1000",
		},
		"target_sell_spread":     "1.5",
		"stop_loss_spread":       "-1",
		"check_interval_seconds": 5,
		"max_wait_seconds":       120,
		"live_mode":              true,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-42", resp["run_id"])

	assert.True(t, coord.lastPolicy.TargetSellSpread.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, coord.lastPolicy.StopLossSpread.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, 5*time.Second, coord.lastPolicy.CheckInterval)
	assert.Equal(t, 2*time.Minute, coord.lastPolicy.MaxWait)
	assert.True(t, coord.lastPolicy.LiveMode)
}

func TestSubmitRunErrors(t *testing.T) {
	tests := []struct {
		name       string
		submitErr  error
		wantStatus int
	}{
		{name: "duplicate", submitErr: engine.ErrDuplicateActiveRun, wantStatus: http.StatusConflict},
		{name: "no capital", submitErr: engine.ErrInsufficientCapital, wantStatus: http.StatusUnprocessableEntity},
		{name: "invalid", submitErr: errors.New("invalid opportunity"), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(&fakeCoordinator{submitErr: tt.submitErr}, nil)

			rec := httptest.NewRecorder()
			s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`))))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRunStatusFallsBackToArchive(t *testing.T) {
	coord := &fakeCoordinator{statusErr: engine.ErrRunNotFound}
	archive := &fakeArchive{byID: map[string]domain.ExecutionRun{
		"old-run": {ID: "old-run", State: domain.RunStateSettled},
	}}
	s := testServer(coord, archive)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/old-run", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var run domain.ExecutionRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "old-run", run.ID)

	rec = httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsFilters(t *testing.T) {
	coord := &fakeCoordinator{runs: []domain.ExecutionRun{{ID: "live-1"}}}
	archive := &fakeArchive{
		byID: map[string]domain.ExecutionRun{},
		all: []domain.ExecutionRun{
			{ID: "r1", OpportunityID: "opp-1", State: domain.RunStateSettled},
			{ID: "r2", OpportunityID: "opp-2", State: domain.RunStateFailed},
		},
	}
	s := testServer(coord, archive)

	var runs []domain.ExecutionRun

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "live-1", runs[0].ID)

	rec = httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?opportunity_id=opp-1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)

	rec = httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?state=FAILED", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)
}

func TestCancelRun(t *testing.T) {
	coord := &fakeCoordinator{}
	s := testServer(coord, nil)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs/run-9/cancel", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"run-9"}, coord.cancelled)
}

func TestManualSelection(t *testing.T) {
	opps := &fakeOpportunities{manual: domain.Opportunity{
		ID:              "manual-1",
		ManualSelection: true,
		Confidence:      decimal.NewFromInt(100),
	}}
	s := NewServer(":0", &fakeCoordinator{}, &fakeArchive{byID: map[string]domain.ExecutionRun{}}, opps, &fakeLedger{}, zap.NewNop())

	body := []byte(`{"pair":"BTC_USDT","buy_exchange":"binance","sell_exchange":"bybit"}`)
	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/opportunities/manual", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var opp domain.Opportunity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opp))
	assert.True(t, opp.ManualSelection)

	// malformed pair
	rec = httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/opportunities/manual", bytes.NewReader([]byte(`{"pair":"BTCUSDT"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStream(t *testing.T) {
	events := make(chan domain.StateChangeEvent, 1)
	events <- domain.StateChangeEvent{
		RunID: "run-1",
		From:  domain.RunStateBuying,
		To:    domain.RunStateMonitoring,
		Time:  time.Now(),
	}
	close(events)

	coord := &fakeCoordinator{events: events}
	s := testServer(coord, nil)

	rec := httptest.NewRecorder()
	s.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/stream", nil))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: state")
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
}
