// Package runs persists one immutable record per terminal execution
// run, queryable by opportunity id and by state.
package runs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/runs"
	segmentLimit = 1000
	maxSegments  = 100

	runKeyPrefix = "run_"
)

// WALStore is a WAL-backed archive of terminal runs. Records are
// replayed into memory at startup; queries never touch disk.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	// byID holds the latest record per run id; terminal runs are
	// immutable so a duplicate write is a no-op overwrite
	byID map[string]domain.ExecutionRun
}

// NewWALStore opens (or creates) the archive in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "run_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init run archive WAL")
	}

	store := &WALStore{wal: wal, byID: make(map[string]domain.ExecutionRun)}

	for msg := range wal.Iterator() {
		var record domain.ExecutionRun
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrapf(err, "decode archived run %s", msg.Key)
		}
		store.byID[record.ID] = record
	}

	return store, nil
}

// Save archives a terminal run record.
func (s *WALStore) Save(run domain.ExecutionRun) error {
	if s == nil || s.wal == nil {
		return errors.New("run archive is not initialized")
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if !run.State.Terminal() {
		return fmt.Errorf("refusing to archive non-terminal run %s in state %s", run.ID, run.State)
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return errors.Wrap(err, "marshal run record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, runKeyPrefix+run.ID, payload); err != nil {
		return errors.Wrap(err, "write run record")
	}
	s.byID[run.ID] = run
	return nil
}

// ByID returns the archived record for a run id.
func (s *WALStore) ByID(runID string) (domain.ExecutionRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.byID[runID]
	return run, ok
}

// ByOpportunity returns every archived run for the opportunity,
// oldest first.
func (s *WALStore) ByOpportunity(opportunityID string) []domain.ExecutionRun {
	return s.filter(func(r domain.ExecutionRun) bool {
		return r.OpportunityID == opportunityID
	})
}

// ByState returns every archived run in the given terminal state,
// oldest first.
func (s *WALStore) ByState(state domain.RunState) []domain.ExecutionRun {
	return s.filter(func(r domain.ExecutionRun) bool {
		return r.State == state
	})
}

// All returns every archived run, oldest first.
func (s *WALStore) All() []domain.ExecutionRun {
	return s.filter(func(domain.ExecutionRun) bool { return true })
}

func (s *WALStore) filter(keep func(domain.ExecutionRun) bool) []domain.ExecutionRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ExecutionRun, 0)
	for _, run := range s.byID {
		if keep(run) {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("run archive is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
