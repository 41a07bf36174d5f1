// Package memory is an in-process DurableStore. It does not survive restart;
// it exists for tests and for running the manager without a real backend.
package memory

import (
	"context"
	"sync"

	"github.com/krisalay/tiered-cache/types"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]types.Record
	opened  bool
}

var _ types.DurableStore = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[string]types.Record)}
}

func (s *Store) Open(context.Context) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, key string) (types.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.opened {
		return types.Record{}, false, types.ErrUnavailable
	}
	rec, ok := s.records[key]
	if !ok {
		return types.Record{}, false, nil
	}
	rec.Blob = append([]byte(nil), rec.Blob...)
	return rec, true, nil
}

func (s *Store) Put(_ context.Context, rec types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return types.ErrUnavailable
	}
	rec.Blob = append([]byte(nil), rec.Blob...)
	s.records[rec.Key] = rec
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return types.ErrUnavailable
	}
	delete(s.records, key)
	return nil
}

func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return types.ErrUnavailable
	}
	s.records = make(map[string]types.Record)
	return nil
}

// Close keeps the records so a reopened store sees them, which lets tests
// simulate a process restart against the same instance.
func (s *Store) Close() error {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
