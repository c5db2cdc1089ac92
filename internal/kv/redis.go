package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// RedisStore keeps JSON encoded values under namespace+key.
type RedisStore[V any] struct {
	rdb       redis.UniversalClient
	namespace string
}

func NewRedisStore[V any](rdb redis.UniversalClient, namespace string) *RedisStore[V] {
	return &RedisStore[V]{rdb: rdb, namespace: namespace}
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	raw, err := s.rdb.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("kv redis get: %w", err)
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("kv redis decode %q: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore[V]) Set(ctx context.Context, key string, val V, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("kv redis encode %q: %w", key, err)
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := s.rdb.Set(ctx, s.namespace+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("kv redis set: %w", err)
	}
	return nil
}

func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.namespace+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("kv redis del: %w", err)
	}
	return nil
}

func (s *RedisStore[V]) Scan(ctx context.Context, prefix string, fn func(key string, val V) bool) error {
	match := s.namespace + prefix + "*"

	iter := s.rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		key := strings.TrimPrefix(fullKey, s.namespace)

		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			// expired or deleted between SCAN and GET
			continue
		}
		if !fn(key, v) {
			return nil
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("kv redis scan: %w", err)
	}
	return nil
}
