package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts events per key over a sliding window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// MemoryLimiter keeps a timestamp log per key. Exact, and bounded by limit
// entries per key.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	clients map[string][]time.Time
	calls   int
}

func NewMemoryLimiter(limit int, window time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	if limit <= 0 {
		limit = 1
	}

	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     now,
		clients: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := trim(l.clients[key], cutoff)

	l.calls++
	if l.calls%1024 == 0 {
		l.pruneLocked(cutoff)
	}

	if len(hits) >= l.limit {
		l.clients[key] = hits
		retry := hits[0].Add(l.window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	hits = append(hits, now)
	l.clients[key] = hits

	return Decision{Allowed: true, Remaining: l.limit - len(hits)}, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.clients, key)
	l.mu.Unlock()
	return nil
}

// pruneLocked drops keys with no hits left in the window.
func (l *MemoryLimiter) pruneLocked(cutoff time.Time) {
	for k, hits := range l.clients {
		if len(trim(hits, cutoff)) == 0 {
			delete(l.clients, k)
		}
	}
}

// trim removes hits at or before cutoff; hits are in ascending order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
