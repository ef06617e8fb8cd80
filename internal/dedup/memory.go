package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const memoryBackend = "memory"

// MemoryStore keeps the replay cache in process memory: a size-bounded
// LRU whose entries also expire after the replay TTL. It only protects a
// single instance; deployments running more than one replica share a
// RedisStore instead.
type MemoryStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []byte]
}

// NewMemoryStore builds a store holding at most capacity decisions, each
// kept for ttl after it is recorded.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	onEvict := func(string, []byte) {
		dedupEvictionsTotal.WithLabelValues(memoryBackend).Inc()
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []byte](capacity, onEvict, ttl)}
}

// Lookup returns the decision recorded for sid, if any.
func (s *MemoryStore) Lookup(_ context.Context, sid string) ([]byte, bool, error) {
	s.mu.Lock()
	decision, ok := s.lru.Get(sid)
	s.mu.Unlock()
	recordLookup(memoryBackend, ok, nil)
	return decision, ok, nil
}

// Record stores the decision for sid unless one is already present. The
// mutex covers the check and the write together so two goroutines racing
// on the same sid cannot both claim it.
func (s *MemoryStore) Record(_ context.Context, sid string, decision []byte) error {
	s.mu.Lock()
	_, exists := s.lru.Get(sid)
	if !exists {
		s.lru.Add(sid, decision)
	}
	s.mu.Unlock()
	if exists {
		recordWrite(memoryBackend, "duplicate")
	} else {
		recordWrite(memoryBackend, "stored")
	}
	return nil
}

// Close drops every cached decision.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.lru.Purge()
	s.mu.Unlock()
	return nil
}
