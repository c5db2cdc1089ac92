package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

type MemoryStore[V any] struct {
	mu  sync.RWMutex
	now func() time.Time
	m   map[string]entry[V]
}

type entry[V any] struct {
	val V
	exp time.Time // zero: no expiry
}

type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func NewMemoryStore[V any](opts ...MemoryOption) *MemoryStore[V] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryStore[V]{
		now: o.now,
		m:   make(map[string]entry[V]),
	}
}

func (s *MemoryStore[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	now := s.now()
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}

	if e.expired(now) {
		s.mu.Lock()
		// re-check: a concurrent Set may have replaced the entry
		if cur, ok := s.m[key]; ok && cur.expired(now) {
			delete(s.m, key)
		}
		s.mu.Unlock()
		return zero, false, nil
	}

	return e.val, true, nil
}

func (s *MemoryStore[V]) Set(_ context.Context, key string, val V, ttl time.Duration) error {
	e := entry[V]{val: val}
	if ttl > 0 {
		e.exp = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore[V]) Scan(ctx context.Context, prefix string, fn func(key string, val V) bool) error {
	now := s.now()

	// snapshot so fn may call back into the store
	type kvPair struct {
		key string
		val V
	}
	var live []kvPair
	var stale []string

	s.mu.RLock()
	for k, e := range s.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if e.expired(now) {
			stale = append(stale, k)
			continue
		}
		live = append(live, kvPair{key: k, val: e.val})
	}
	s.mu.RUnlock()

	if len(stale) > 0 {
		s.mu.Lock()
		for _, k := range stale {
			if cur, ok := s.m[k]; ok && cur.expired(now) {
				delete(s.m, k)
			}
		}
		s.mu.Unlock()
	}

	for _, p := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(p.key, p.val) {
			return nil
		}
	}
	return nil
}

// Len counts entries including ones not yet evicted.
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}
