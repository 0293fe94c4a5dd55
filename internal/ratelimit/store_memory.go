package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements the sliding window in process memory. Suitable for a
// single instance; use the Redis store when running more than one replica.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	stamps := s.windows[key]
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	stamps = stamps[i:]

	if len(stamps) >= limit {
		s.windows[key] = stamps
		return Result{
			Allowed:    false,
			RetryAfter: stamps[0].Add(window).Sub(now),
		}, nil
	}

	stamps = append(stamps, now)
	s.windows[key] = stamps
	return Result{
		Allowed:   true,
		Remaining: limit - len(stamps),
	}, nil
}
