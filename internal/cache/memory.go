package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps fingerprints for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, bucket, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.entries[bucket][key]
	return fp, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, bucket, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.entries[bucket]
	if !ok {
		b = make(map[string]string)
		s.entries[bucket] = b
	}
	b[key] = fingerprint
	return nil
}

func (s *MemoryStore) Close() error { return nil }
