// Package cache provides a generic, thread-safe, bounded in-memory cache
// with LRU eviction, positive/negative TTL, single-flight miss coalescing,
// and an optional transparent compression layer.
//
// Design
//
//   - Concurrency: one global mutex protects Index membership and LRU
//     structure; one mutex+condvar per entry protects that entry's status,
//     value, and TTL. Lock ordering is always global -> entry.
//
//   - Storage: a hand-rolled separate-chaining hash table (Index) sized to
//     at least 1.3x capacity, plus an intrusive doubly linked LRU list.
//     Both run under the global mutex; entries are never reallocated, so
//     references into them stay valid until eviction or removal.
//
//   - Single-flight: GetOrCompute ensures at most one concurrent
//     invocation of Options.MissHandler per key. Other callers for the
//     same key block on the entry's condition variable and observe the
//     same result. TryGetOrCompute offers a bounded-wait alternative that
//     gives up on ctx cancellation without disturbing the leader.
//
//   - TTL: positive and negative results expire independently via
//     Options.PositiveTTL/NegativeTTL. Has purges expired entries as a
//     side effect; Touch does not.
//
//   - Compression: GetOrComputeCompressed serializes values with
//     Options.Serializer (JSON by default) and frames them with LZ4,
//     returning the compressed bytes directly without materializing V.
//
//   - Eviction: when full, the cache evicts the least-recently-used entry
//     that is not currently CALCULATING, scanning past any that are. If
//     every resident entry is CALCULATING, the operation fails with
//     ErrCapacityExhausted instead of evicting a locked entry.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/CapacityExhausted
//     signals. NoopMetrics is the default; metrics/prom.Adapter wires this
//     to Prometheus.
//
// Basic usage
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Capacity:    10_000,
//	    PositiveTTL: time.Minute,
//	    NegativeTTL: 5 * time.Second,
//	    MissHandler: func(ctx context.Context, key string, cookie any) (string, int8, error) {
//	        return fetch(key)
//	    },
//	})
//	v, code, err := c.GetOrCompute(ctx, "key", nil)
//
// With compression
//
//	c := cache.New[string, Payload](cache.Options[string, Payload]{
//	    Capacity:    10_000,
//	    Compression: true,
//	    MissHandler: loadPayload,
//	})
//	raw, origSize, _, err := c.GetOrComputeCompressed(ctx, "key", nil)
//	v, err := c.Decompress(raw, origSize)
//
// Exporting metrics (example Prometheus adapter)
//
//	m := prom.New(nil, "flightcache", "demo", nil) // implements cache.Metrics
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    Capacity: 10_000,
//	    Metrics:  m,
//	})
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Typical operation cost
// is O(1) expected: one hash lookup and a constant amount of pointer
// fixes. Eviction work is O(1) amortized per removed item, degrading only
// when many consecutive LRU-tail entries are CALCULATING.
package cache
