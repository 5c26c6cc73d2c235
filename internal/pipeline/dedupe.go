package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// DedupeStore provides interface for message deduplication
type DedupeStore interface {
	Exists(messageID string) bool
	Add(messageID string) error
}

// InMemoryDedupeStore is a simple in-memory implementation
type InMemoryDedupeStore struct {
	mu    sync.RWMutex
	store map[string]time.Time
	ttl   time.Duration
	clock quartz.Clock
}

func NewInMemoryDedupeStore(ttl time.Duration, clock quartz.Clock) *InMemoryDedupeStore {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &InMemoryDedupeStore{
		store: make(map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

func (s *InMemoryDedupeStore) Exists(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, exists := s.store[messageID]
	return exists && s.clock.Now().Before(expiry)
}

func (s *InMemoryDedupeStore) Add(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[messageID] = s.clock.Now().Add(s.ttl)
	return nil
}

// Len returns the number of tracked ids, expired or not.
func (s *InMemoryDedupeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}

// Cleanup removes expired ids.
func (s *InMemoryDedupeStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for id, expiry := range s.store {
		if !now.Before(expiry) {
			delete(s.store, id)
		}
	}
}

// RunCleanup sweeps expired ids every interval until ctx is done.
func (s *InMemoryDedupeStore) RunCleanup(ctx context.Context, interval time.Duration) {
	w := s.clock.TickerFunc(ctx, interval, func() error {
		s.Cleanup()
		return nil
	}, "dedupe", "cleanup")
	_ = w.Wait()
}
