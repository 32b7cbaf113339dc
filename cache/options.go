package cache

import (
	"context"
	"time"
)

// MissHandler computes the value for an absent or expired key. It returns
// the value, a user-defined ad-hoc code, and an error. A non-nil error
// transitions the entry to FAILED (cached as a negative result for
// NegativeTTL); a nil error transitions it to READY.
//
// This is a fallible-return signature rather than an out-parameter plus
// boolean: no uninitialized-value hazard, and the caller's zero value
// for V is never mistaken for a real result.
type MissHandler[K comparable, V any] func(ctx context.Context, key K, cookie any) (V, int8, error)

// Clock provides the current instant; useful for deterministic tests.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Cache. Zero values are safe for every field except
// Capacity, which must be > 1; defaults are applied in New(): nil Metrics -> NoopMetrics, nil Clock -> realClock, nil HashFn ->
// FNV-1a, nil Serializer -> JSON.
type Options[K comparable, V any] struct {
	// Capacity is the maximum number of resident entries. Must be > 1.
	Capacity int

	// Name optionally tags this cache instance, surfaced via Stats().Name
	// and as a const-label when wired through metrics/prom.
	Name string

	// PositiveTTL is the validity window of a READY entry. Zero or
	// negative means entries never expire on their own (they still leave
	// residency via LRU eviction, Remove, or Expire).
	PositiveTTL time.Duration
	// NegativeTTL is the validity window of a FAILED entry. Same
	// zero-means-no-expiry rule as PositiveTTL.
	NegativeTTL time.Duration

	// MissHandler computes the value for a missing or expired key. Required
	// for GetOrCompute/TryGetOrCompute; ErrNoMissHandler otherwise.
	MissHandler MissHandler[K, V]

	// HashFn hashes keys for the Index. Defaults to FNV-1a (util.Fnv64a).
	HashFn func(K) uint64

	// Compression enables the transparent LZ4-over-Serializer value layer.
	// GetOrComputeCompressed requires this to be true.
	Compression bool
	// Serializer is the opaque bytes<->V round trip used when Compression
	// is enabled. Defaults to JSON.
	Serializer Serializer[V]

	// OnEvict is called whenever an entry leaves residency. For LRU
	// evictions it runs under the global mutex; for Remove and TTL purges
	// it runs after the global mutex is released. Keep it cheap.
	OnEvict func(key K, reason EvictReason)

	Metrics Metrics
	Clock   Clock
}
