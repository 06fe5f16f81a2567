package store

import (
	"context"
	"sync"

	"github.com/imamik/hubspoke/internal/deployment"
)

// MemoryStore keeps records in a map. It backs tests and --provider memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int]*deployment.Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int]*deployment.Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *deployment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SpokeID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, spokeID int) (*deployment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[spokeID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, spokeID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, spokeID)
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*deployment.Record, error) {
	s.mu.RLock()
	out := make([]*deployment.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	return filter.apply(out), nil
}

func (s *MemoryStore) Close() error { return nil }
