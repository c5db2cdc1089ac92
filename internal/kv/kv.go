// Package kv defines the key/value capability the auth core persists through.
// The same logic runs against an in-process map in tests and single-node
// deployments, and against Redis when state must be shared.
package kv

import (
	"context"
	"time"
)

// Store is a string-keyed store of V values.
//
// A ttl of zero means the entry does not expire at the store level. Stores
// use ttl only to bound memory; callers that need an exact expiry rule keep
// the deadline inside V and check it themselves.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, val V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Scan calls fn for every live entry whose key starts with prefix until
	// fn returns false. Entries written during a scan may or may not be seen.
	Scan(ctx context.Context, prefix string, fn func(key string, val V) bool) error
}
