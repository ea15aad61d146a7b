package storage

import (
	"context"
	"maps"
	"sync"

	"loan-risk/internal/loan"
)

// MemoryStore keeps the history in process memory. It is used in tests and
// for dry runs of the batch scorer.
type MemoryStore struct {
	mu      sync.RWMutex
	cols    []Column
	records []loan.PredictionRecord
}

func NewMemoryStore(cols []Column) *MemoryStore {
	return &MemoryStore{cols: cols}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Append(ctx context.Context, rec loan.PredictionRecord) error {
	if err := checkRecord(s.cols, rec); err != nil {
		return storageErr("append", err)
	}
	if err := ctx.Err(); err != nil {
		return storageErr("append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, clone(rec))
	return nil
}

func (s *MemoryStore) ScanAll(ctx context.Context) ([]loan.PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("scan", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.PredictionRecord, len(s.records))
	for i, r := range s.records {
		out[i] = clone(r)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(r loan.PredictionRecord) loan.PredictionRecord {
	r.Numeric = maps.Clone(r.Numeric)
	r.Categorical = maps.Clone(r.Categorical)
	return r
}
