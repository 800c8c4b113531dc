package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, ErrMiss
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return Entry{}, ErrMiss
	}
	e.Hits++
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, payload []byte, ttl *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry{
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
