package middleware

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	end   time.Time
}

// InMemoryRateLimitStore is a single-instance fixed-window RateLimitStore.
// Deployments with more than one API instance use RedisRateLimitStore.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*window
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates an empty store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{buckets: make(map[string]*window), now: time.Now}
}

// Allow implements RateLimitStore.
func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.buckets[key]
	if !ok || now.After(w.end) {
		s.buckets[key] = &window{count: 1, end: now.Add(config.WindowDuration)}
		return true, config.RequestsPerWindow - 1, 0
	}
	if w.count >= config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(w.end.Sub(now))
	}
	w.count++
	return true, config.RequestsPerWindow - w.count, 0
}

// Cleanup drops expired windows.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.buckets {
		if now.After(w.end) {
			delete(s.buckets, key)
		}
	}
}

// RunPeriodicCleanup calls Cleanup every interval until stopChan is closed.
func (s *InMemoryRateLimitStore) RunPeriodicCleanup(interval time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-stopChan:
			return
		}
	}
}
