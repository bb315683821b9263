package idempotency

import (
	"context"
	"sync"
	"time"

	x402 "github.com/kudoprotocol/kudo-x402"
)

type cachedSettlement struct {
	response  *x402.SettleResponse
	expiresAt time.Time
}

// InMemoryStore keeps settlement results in process memory. Results are
// lost on restart; use SQLiteStore when they must survive one.
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[string]cachedSettlement
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

// NewInMemoryStore creates an in-memory store that remembers results for ttl
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[string]cachedSettlement),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CheckAndMark atomically checks the cache and marks the key as in-flight if needed.
func (s *InMemoryStore) CheckAndMark(key string) (SettlementStatus, *x402.SettleResponse, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result := s.lookupLocked(key); result != nil {
		return StatusCached, result, nil
	}

	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight request to complete, respecting context cancellation.
func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*x402.SettleResponse, error) {
	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lookupLocked(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete caches the response and wakes waiters.
func (s *InMemoryStore) Complete(key string, response *x402.SettleResponse, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = cachedSettlement{response: response, expiresAt: s.now().Add(s.ttl)}
	delete(s.inFlight, key)
	close(done)

	s.evictExpiredLocked()
}

// Fail removes the in-flight marker without caching a result.
func (s *InMemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

func (s *InMemoryStore) lookupLocked(key string) *x402.SettleResponse {
	entry, ok := s.results[key]
	if !ok {
		return nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.results, key)
		return nil
	}
	return entry.response
}

func (s *InMemoryStore) evictExpiredLocked() {
	now := s.now()
	for key, entry := range s.results {
		if !now.Before(entry.expiresAt) {
			delete(s.results, key)
		}
	}
}

var _ SettlementStore = (*InMemoryStore)(nil)
