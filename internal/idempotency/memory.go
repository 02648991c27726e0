package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/heating-shop/internal/domain/order"
)

var _ order.IdempotencyStore = (*MemoryStore)(nil)

type entry struct {
	value   string
	expires time.Time
}

// sweepEvery caps how often a call scans both maps for expired entries.
const sweepEvery = time.Minute

// MemoryStore is a single-instance store used when Redis is not configured.
// Expired entries are swept at most once per sweepEvery from within regular
// calls, so the maps stay bounded by the traffic of one TTL window.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
	locks     map[string]time.Time
	results   map[string]entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		locks:   make(map[string]time.Time),
		results: make(map[string]entry),
	}
}

func (s *MemoryStore) TryLock(_ context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lockKey(scope, key)
	now := s.now()
	s.sweep(now)
	if exp, ok := s.locks[k]; ok && now.Before(exp) {
		return false, nil
	}
	s.locks[k] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryStore) Remember(_ context.Context, scope, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	// The result answers retries from here on.
	delete(s.locks, lockKey(scope, key))
	s.results[resultKey(scope, key)] = entry{value: orderID, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Recall(_ context.Context, scope, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := resultKey(scope, key)
	e, ok := s.results[k]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.results, k)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, lockKey(scope, key))
	return nil
}

// Len reports the number of held locks and remembered results.
func (s *MemoryStore) Len() (locks, results int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks), len(s.results)
}

// sweep drops expired entries. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(min(s.ttl, sweepEvery))
	for k, exp := range s.locks {
		if !now.Before(exp) {
			delete(s.locks, k)
		}
	}
	for k, e := range s.results {
		if !now.Before(e.expires) {
			delete(s.results, k)
		}
	}
}
