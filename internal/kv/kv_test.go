package kv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func exerciseStore(t *testing.T, s Store[item], advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "a:1", item{Name: "one", Count: 1}, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Set(ctx, "a:2", item{Name: "two", Count: 2}, time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s.Set(ctx, "b:1", item{Name: "other"}, 0); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, ok, err := s.Get(ctx, "a:1")
	if err != nil || !ok {
		t.Fatalf("expected a:1, got ok=%v err=%v", ok, err)
	}
	if got.Name != "one" || got.Count != 1 {
		t.Fatalf("unexpected value %+v", got)
	}

	var keys []string
	if err := s.Scan(ctx, "a:", func(key string, _ item) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a:1" || keys[1] != "a:2" {
		t.Fatalf("unexpected scan keys %v", keys)
	}

	advance(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "a:2"); ok {
		t.Fatalf("expected a:2 to have expired")
	}

	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := s.Delete(ctx, "a:1"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a:1"); ok {
		t.Fatalf("expected a:1 to be deleted")
	}
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore[item](WithClock(clock.Now))

	exerciseStore(t, s, clock.Advance)

	if s.Len() != 1 {
		t.Fatalf("expected only b:1 to remain, have %d entries", s.Len())
	}
}

func TestMemoryStore_ScanEvictsExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore[item](WithClock(clock.Now))
	ctx := context.Background()

	_ = s.Set(ctx, "x", item{Name: "x"}, time.Second)
	clock.Advance(time.Second)

	seen := 0
	_ = s.Scan(ctx, "", func(string, item) bool { seen++; return true })

	if seen != 0 {
		t.Fatalf("expected expired entry to be skipped")
	}
	if s.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted by scan")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore[item](rdb, "test:")

	exerciseStore(t, s, mr.FastForward)

	if !mr.Exists("test:b:1") {
		t.Fatalf("expected namespaced key in redis")
	}
}
