package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then adds the hit only if
// the limit has not been reached. Runs atomically inside redis.
//
// KEYS[1] key, ARGV[1] now ms, ARGV[2] window ms, ARGV[3] limit, ARGV[4] member
// returns {allowed, count, oldest ms}
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)

local oldest = now
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
	oldest = tonumber(first[2])
end

if count >= limit then
	return {0, count, oldest}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, count + 1, oldest}
`)

// RedisLimiter shares the sliding window across processes.
type RedisLimiter struct {
	rdb       redis.UniversalClient
	namespace string
	limit     int
	window    time.Duration
	now       func() time.Time
}

func NewRedisLimiter(rdb redis.UniversalClient, namespace string, limit int, window time.Duration, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	if limit <= 0 {
		limit = 1
	}

	return &RedisLimiter{
		rdb:       rdb,
		namespace: namespace,
		limit:     limit,
		window:    window,
		now:       now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	nowMS := l.now().UnixMilli()
	windowMS := l.window.Milliseconds()

	res, err := slidingWindow.Run(ctx, l.rdb,
		[]string{l.namespace + key},
		nowMS, windowMS, l.limit, strconv.FormatInt(nowMS, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit redis: %w", err)
	}

	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]

	if !allowed {
		retry := time.Duration(oldest+windowMS-nowMS) * time.Millisecond
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.namespace+key).Err()
}
