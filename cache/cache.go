package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvandorn/flightcache/internal/lease"
	"github.com/dvandorn/flightcache/internal/util"
)

// Cache is a thread-safe, bounded, LRU-evicted, TTL-aware cache with
// single-flight miss coalescing and an optional transparent compression
// layer. All methods are safe for concurrent use by multiple goroutines.
//
// There is exactly one global mutex protecting Index/LRU structure, and
// one mutex+condvar per entry protecting its status/value/TTL. Lock
// ordering is always global -> entry; an entry mutex is never held
// while acquiring the global mutex.
type Cache[K comparable, V any] struct {
	mu  sync.Mutex
	idx *index[K, V]
	lru *lruList[K, V]

	opt    Options[K, V]
	closed atomic.Bool

	leases lease.Registry[K, V]

	hits, misses, evictions, capExhausted util.PaddedInt64
}

// New constructs a Cache with the provided Options.
func New[K comparable, V any](opt Options[K, V]) *Cache[K, V] {
	if opt.Capacity <= 1 {
		panic("cache: Capacity must be > 1")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Clock == nil {
		opt.Clock = realClock{}
	}
	if opt.HashFn == nil {
		opt.HashFn = util.Fnv64a[K]
	}
	if opt.Serializer == nil {
		opt.Serializer = jsonSerializer[V]{}
	}

	return &Cache[K, V]{
		idx: newIndex[K, V](opt.Capacity, opt.HashFn),
		lru: newLRUList[K, V](),
		opt: opt,
	}
}

func (c *Cache[K, V]) now() time.Time { return c.opt.Clock.Now() }

// ttlExpiryFor computes the expiry instant for a TTL measured from now. A
// non-positive ttl means the entry never expires, matching the zero-value-
// defaults convention elsewhere in Options: a Cache built without an
// explicit TTL retains entries rather than treating every write as
// immediately stale.
func (c *Cache[K, V]) ttlExpiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Lock/Unlock expose the global mutex directly, for use with NewIterator.
func (c *Cache[K, V]) Lock()   { c.mu.Lock() }
func (c *Cache[K, V]) Unlock() { c.mu.Unlock() }

// Capacity returns the configured maximum resident entry count.
func (c *Cache[K, V]) Capacity() int { return c.opt.Capacity }

// Len returns the current number of resident entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx.size
}

// Close marks the cache closed. Afterwards GetOrCompute, TryGetOrCompute
// and GetOrComputeCompressed return ErrCacheClosed and Insert and Set do
// nothing; Has, Touch, Remove, Expire, GetLRU, GetMRU, Len and Stats keep
// working on the entries already resident.
func (c *Cache[K, V]) Close() error {
	c.closed.Store(true)
	return nil
}

// Stats is a point-in-time snapshot of cache-wide counters, supplementing
// the push-style Metrics interface with a pull snapshot for diagnostics
// (grounded on the reference implementation's GetState/CacheState).
type Stats struct {
	Name              string
	Capacity          int
	Len               int
	Hits              int64
	Misses            int64
	Evictions         int64
	CapacityExhausted int64
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:              c.opt.Name,
		Capacity:          c.opt.Capacity,
		Len:               c.idx.size,
		Hits:              c.hits.V,
		Misses:            c.misses.V,
		Evictions:         c.evictions.V,
		CapacityExhausted: c.capExhausted.V,
	}
}

func (c *Cache[K, V]) recordHit() {
	c.mu.Lock()
	c.hits.V++
	c.mu.Unlock()
	c.opt.Metrics.Hit()
}

func (c *Cache[K, V]) recordMiss() {
	c.mu.Lock()
	c.misses.V++
	c.mu.Unlock()
	c.opt.Metrics.Miss()
}

func (c *Cache[K, V]) recordEvict(key K, reason EvictReason) {
	c.mu.Lock()
	c.evictions.V++
	c.mu.Unlock()
	c.opt.Metrics.Evict(reason)
	if c.opt.OnEvict != nil {
		c.opt.OnEvict(key, reason)
	}
}

// recordEvictLocked is recordEvict for callers that already hold c.mu
// (evictOneLocked runs nested inside containsOrReserve, itself called
// with c.mu held, so re-locking here would self-deadlock).
func (c *Cache[K, V]) recordEvictLocked(key K, reason EvictReason) {
	c.evictions.V++
	c.opt.Metrics.Evict(reason)
	if c.opt.OnEvict != nil {
		c.opt.OnEvict(key, reason)
	}
}

func (c *Cache[K, V]) recordCapacityExhausted() {
	c.mu.Lock()
	c.capExhausted.V++
	c.mu.Unlock()
	c.opt.Metrics.CapacityExhausted()
}

// containsOrReserve is the internal operation backing Insert/Set/
// GetOrCompute: look up key, promoting it to MRU on a hit, or reserve a
// fresh entry slot (evicting if at capacity) on a miss. The caller must
// hold c.mu and continue to hold it until it inspects existed; it must
// release c.mu before touching ent.mu.
func (c *Cache[K, V]) containsOrReserve(key K) (ent *entry[K, V], existed bool, err error) {
	if e := c.idx.lookup(key); e != nil {
		c.lru.moveToFront(e)
		return e, true, nil
	}

	if c.idx.size >= c.opt.Capacity {
		victim := c.evictOneLocked()
		if victim == nil {
			return nil, false, ErrCapacityExhausted
		}
	}

	e := newEntry[K, V](key)
	c.idx.insert(e)
	c.lru.pushFront(e)
	c.opt.Metrics.Size(c.idx.size)
	return e, false, nil
}

// evictOneLocked removes the LRU-most entry that is not CALCULATING,
// walking toward MRU as needed. An in-flight computation must never be
// evicted out from under its waiters, so a single-tail check is not
// enough; this scans past skippable victims instead. Returns nil if
// every resident entry is CALCULATING.
func (c *Cache[K, V]) evictOneLocked() *entry[K, V] {
	for victim := c.lru.back(); victim != nil; victim = c.lru.prevOf(victim) {
		victim.mu.Lock()
		calculating := victim.status == statusCalculating
		victim.mu.Unlock()
		if calculating {
			continue
		}
		c.lru.remove(victim)
		c.idx.remove(victim)
		c.opt.Metrics.Size(c.idx.size)
		c.recordEvictLocked(victim.key, EvictLRU)
		return victim
	}
	return nil
}

// Insert stores value under key only if key is not already present. It
// returns the stored value and true on success, or the zero value and
// false if key already existed (insert does not overwrite; see Set for
// the upsert alternative).
func (c *Cache[K, V]) Insert(key K, value V) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}

	c.mu.Lock()
	ent, existed, err := c.containsOrReserve(key)
	c.mu.Unlock()
	if err != nil || existed {
		var zero V
		return zero, false
	}

	ent.mu.Lock()
	ent.value = value
	ent.status = statusReady
	ent.ttlExpiry = c.ttlExpiryFor(c.now(), c.opt.PositiveTTL)
	ent.mu.Unlock()
	return value, true
}

// Set inserts or overwrites key's value, always promoting it to MRU and
// refreshing PositiveTTL. This is the update-and-refresh sibling to
// Insert's insert-only contract (grounded on the reference
// implementation's StoreOrUpdate).
func (c *Cache[K, V]) Set(key K, value V) {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	ent, _, err := c.containsOrReserve(key)
	c.mu.Unlock()
	if err != nil {
		c.recordCapacityExhausted()
		return
	}

	ent.mu.Lock()
	ent.value = value
	ent.status = statusReady
	ent.err = nil
	ent.ttlExpiry = c.ttlExpiryFor(c.now(), c.opt.PositiveTTL)
	ent.mu.Unlock()
}

// Has reports whether key currently has a usable, unexpired value. On a
// fresh hit it does not move the entry (see Touch for that). Expired
// READY or FAILED entries are purged as a side effect.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()
	e := c.idx.lookup(key)
	if e == nil {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	e.mu.Lock()
	now := c.now()
	switch {
	case e.status == statusCalculating:
		e.mu.Unlock()
		return false
	case e.status == statusReady && !e.expired(now):
		e.mu.Unlock()
		return true
	case (e.status == statusReady || e.status == statusFailed) && e.expired(now):
		e.mu.Unlock()
		c.purgeExpired(e)
		return false
	default:
		// statusAvailable (not yet filled), or statusFailed not expired:
		// resident, but not "present".
		e.mu.Unlock()
		return false
	}
}

// Touch is like Has but promotes a fresh hit to LRU front. It does not
// purge expired entries; Has remains the canonical purger.
func (c *Cache[K, V]) Touch(key K) bool {
	c.mu.Lock()
	e := c.idx.lookup(key)
	if e == nil {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	e.mu.Lock()
	now := c.now()
	isHit := e.status == statusReady && !e.expired(now)
	e.mu.Unlock()

	if !isHit {
		return false
	}

	c.mu.Lock()
	c.lru.moveToFront(e)
	c.mu.Unlock()
	return true
}

// purgeExpired removes e from residency after observing its TTL elapsed.
func (c *Cache[K, V]) purgeExpired(e *entry[K, V]) {
	c.mu.Lock()
	if c.idx.lookup(e.key) == e {
		c.lru.remove(e)
		c.idx.remove(e)
		c.opt.Metrics.Size(c.idx.size)
		c.mu.Unlock()
		c.recordEvict(e.key, EvictTTL)
		return
	}
	c.mu.Unlock()
}

// Remove deletes key if present. It is a no-op if key is absent. Removing
// a CALCULATING entry is a contract violation: callers must not do it,
// and this panics rather than silently corrupting the single-flight
// state machine for any in-flight waiters.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	e := c.idx.lookup(key)
	if e == nil {
		c.mu.Unlock()
		return false
	}

	e.mu.Lock()
	if e.status == statusCalculating {
		e.mu.Unlock()
		c.mu.Unlock()
		panic("cache: Remove called on a CALCULATING entry")
	}
	e.mu.Unlock()

	c.lru.remove(e)
	c.idx.remove(e)
	c.opt.Metrics.Size(c.idx.size)
	c.mu.Unlock()
	c.recordEvict(key, EvictExplicit)
	return true
}

// Expire marks key as already expired without unlinking it, so the next
// Has purges it and the next GetOrCompute recomputes it. It reports
// whether key was resident. Safe to call on a CALCULATING entry, where it
// has no effect: only READY and FAILED entries are marked, and the
// finished computation sets a fresh TTL (grounded on the reference
// implementation's LazyRemove).
func (c *Cache[K, V]) Expire(key K) bool {
	c.mu.Lock()
	e := c.idx.lookup(key)
	c.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.status == statusReady || e.status == statusFailed {
		e.ttlExpiry = c.now().Add(-time.Nanosecond)
	}
	e.mu.Unlock()
	return true
}

// GetLRU returns the least-recently-used resident key/value, if any.
func (c *Cache[K, V]) GetLRU() (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lru.back()
	if e == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return e.key, e.value, true
}

// GetMRU returns the most-recently-used resident key/value, if any.
func (c *Cache[K, V]) GetMRU() (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lru.front()
	if e == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return e.key, e.value, true
}

// GetOrCompute is the central operation. On a fresh hit it
// returns the cached value and ad-hoc code. On a miss or expiry, exactly
// one caller runs Options.MissHandler while every other concurrent caller
// for the same key blocks on the entry's condition variable; all observe
// the same result once the handler returns (single-flight coalescing).
// The leader also registers with internal/lease, so a concurrent
// TryGetOrCompute on the same key joins the same computation instead of
// running MissHandler a second time or observing a half-written entry.
//
// GetOrCompute blocks unconditionally until any in-flight computation for
// key finishes; see TryGetOrCompute for a bounded-wait variant.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, cookie any) (V, int8, error) {
	if c.closed.Load() {
		var zero V
		return zero, 0, ErrCacheClosed
	}
	if c.opt.MissHandler == nil {
		var zero V
		return zero, 0, ErrNoMissHandler
	}

	c.mu.Lock()
	ent, _, err := c.containsOrReserve(key)
	c.mu.Unlock()
	if err != nil {
		c.recordCapacityExhausted()
		var zero V
		return zero, 0, err
	}

	ent.mu.Lock()
	for ent.status == statusCalculating {
		ent.cond.Wait()
	}
	if c.freshLocked(ent) {
		val, code, herr := ent.value, ent.adHocCode, ent.err
		ent.mu.Unlock()
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		c.recordHit()
		return val, code, herr
	}
	ent.status = statusCalculating
	ent.adHocCode = 0
	ent.err = nil
	publish, _ := c.leases.Start(key)
	ent.mu.Unlock()

	c.recordMiss()
	return c.runMissHandler(ctx, ent, key, cookie, publish)
}

// freshLocked reports whether ent currently holds a usable, unexpired
// result. ent.mu must be held by the caller.
func (c *Cache[K, V]) freshLocked(ent *entry[K, V]) bool {
	if ent.status != statusReady && ent.status != statusFailed {
		return false
	}
	return !ent.expired(c.now())
}

// awaitLease waits for the in-flight lease on key to complete. Every
// compute method registers a lease for the duration it holds the entry
// CALCULATING, so the ticket is expected to exist; if it has already been
// cleared by the time Join runs, the fallback reads ent's own published
// fields instead (the leader updates ent before clearing its ticket, so
// the fallback read is always the leader's result, never a stale or
// in-progress one). ent.mu must not be held by the caller.
func (c *Cache[K, V]) awaitLease(ctx context.Context, ent *entry[K, V], key K) (val V, code int8, err error, cancelled bool) {
	res, ok, ctxDone := c.leases.Join(key, ctx.Done())
	if ctxDone {
		return val, 0, nil, true
	}
	if ok {
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		return res.Value, res.Code, res.Err, false
	}

	ent.mu.Lock()
	val, code, err = ent.value, ent.adHocCode, ent.err
	ent.mu.Unlock()
	c.mu.Lock()
	c.lru.moveToFront(ent)
	c.mu.Unlock()
	return val, code, err, false
}

// runMissHandler runs Options.MissHandler for ent (already CALCULATING,
// ent.mu released by the caller before this call), publishes the result,
// and wakes any waiters. publish, if non-nil, is also invoked so bounded
// waiters joined via internal/lease observe the same result.
func (c *Cache[K, V]) runMissHandler(ctx context.Context, ent *entry[K, V], key K, cookie any, publish func(lease.Result[V])) (V, int8, error) {
	val, code, herr := c.opt.MissHandler(ctx, key, cookie)

	now := c.now()
	ent.mu.Lock()
	ent.value = val
	ent.adHocCode = code
	ent.err = herr
	if herr == nil {
		ent.status = statusReady
		ent.ttlExpiry = c.ttlExpiryFor(now, c.opt.PositiveTTL)
	} else {
		ent.status = statusFailed
		ent.ttlExpiry = c.ttlExpiryFor(now, c.opt.NegativeTTL)
	}
	ent.mu.Unlock()

	c.mu.Lock()
	c.lru.moveToFront(ent)
	c.mu.Unlock()

	if publish != nil {
		publish(lease.Result[V]{Value: val, Code: code, Err: herr})
	}

	ent.mu.Lock()
	ent.cond.Broadcast()
	ent.mu.Unlock()

	return val, code, herr
}

// TryGetOrCompute behaves like GetOrCompute, except a follower joining an
// in-flight computation gives up and returns ctx.Err() if ctx is done
// before the leader finishes, instead of blocking unconditionally. It
// never cancels the leader's computation; a cancelled follower simply
// stops waiting, it does not abort the work in progress (see
// internal/lease, which backs this bounded wait).
func (c *Cache[K, V]) TryGetOrCompute(ctx context.Context, key K, cookie any) (V, int8, error) {
	if c.closed.Load() {
		var zero V
		return zero, 0, ErrCacheClosed
	}
	if c.opt.MissHandler == nil {
		var zero V
		return zero, 0, ErrNoMissHandler
	}

	c.mu.Lock()
	ent, _, err := c.containsOrReserve(key)
	c.mu.Unlock()
	if err != nil {
		c.recordCapacityExhausted()
		var zero V
		return zero, 0, err
	}

	ent.mu.Lock()
	if ent.status == statusCalculating {
		ent.mu.Unlock()
		val, code, herr, cancelled := c.awaitLease(ctx, ent, key)
		if cancelled {
			var zero V
			return zero, 0, ctx.Err()
		}
		c.recordHit()
		return val, code, herr
	}
	if c.freshLocked(ent) {
		val, code, herr := ent.value, ent.adHocCode, ent.err
		ent.mu.Unlock()
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		c.recordHit()
		return val, code, herr
	}
	ent.status = statusAvailable
	ent.adHocCode = 0
	ent.err = nil

	publish, isLeader := c.leases.Start(key)
	ent.status = statusCalculating
	ent.mu.Unlock()

	c.recordMiss()
	if isLeader {
		return c.runMissHandler(ctx, ent, key, cookie, publish)
	}

	// Another goroutine won the race to register the lease between our
	// CALCULATING check above and this Start call; join its lease instead
	// of computing a second time.
	val, code, herr, cancelled := c.awaitLease(ctx, ent, key)
	if cancelled {
		var zero V
		return zero, 0, ctx.Err()
	}
	c.recordHit()
	return val, code, herr
}

// GetOrComputeCompressed behaves like GetOrCompute but returns the raw
// LZ4-framed, serialized bytes without materializing V. It requires
// Options.Compression; otherwise ErrCompressionDisabled.
func (c *Cache[K, V]) GetOrComputeCompressed(ctx context.Context, key K, cookie any) (compressed []byte, origSize int, code int8, err error) {
	if c.closed.Load() {
		return nil, 0, 0, ErrCacheClosed
	}
	if !c.opt.Compression {
		return nil, 0, 0, ErrCompressionDisabled
	}
	if c.opt.MissHandler == nil {
		return nil, 0, 0, ErrNoMissHandler
	}

	c.mu.Lock()
	ent, _, rerr := c.containsOrReserve(key)
	c.mu.Unlock()
	if rerr != nil {
		c.recordCapacityExhausted()
		return nil, 0, 0, rerr
	}

	ent.mu.Lock()
	for ent.status == statusCalculating {
		ent.cond.Wait()
	}
	if c.freshLocked(ent) {
		if ent.compressed == nil && ent.status == statusReady {
			buf, sz, cerr := compressValue(c.opt.Serializer, ent.value)
			if cerr != nil {
				ent.status = statusFailed
				ent.adHocCode = codecFailureCode
				ent.err = cerr
				ent.mu.Unlock()
				c.mu.Lock()
				c.lru.moveToFront(ent)
				c.mu.Unlock()
				return nil, 0, codecFailureCode, cerr
			}
			ent.compressed, ent.origSize = buf, sz
		}
		comp, sz, c2, e2 := ent.compressed, ent.origSize, ent.adHocCode, ent.err
		ent.mu.Unlock()
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		c.recordHit()
		return comp, sz, c2, e2
	}
	ent.status = statusCalculating
	ent.adHocCode = 0
	ent.err = nil
	publish, _ := c.leases.Start(key)
	ent.mu.Unlock()

	c.recordMiss()
	val, handlerCode, herr := c.opt.MissHandler(ctx, key, cookie)

	now := c.now()
	ent.mu.Lock()
	ent.adHocCode = handlerCode
	ent.err = herr
	if herr != nil {
		ent.status = statusFailed
		ent.ttlExpiry = c.ttlExpiryFor(now, c.opt.NegativeTTL)
		ent.mu.Unlock()
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		if publish != nil {
			publish(lease.Result[V]{Value: val, Code: handlerCode, Err: herr})
		}
		ent.mu.Lock()
		ent.cond.Broadcast()
		ent.mu.Unlock()
		return nil, 0, handlerCode, herr
	}

	buf, sz, cerr := compressValue(c.opt.Serializer, val)
	if cerr != nil {
		ent.status = statusFailed
		ent.adHocCode = codecFailureCode
		ent.err = cerr
		ent.ttlExpiry = c.ttlExpiryFor(now, c.opt.NegativeTTL)
		ent.mu.Unlock()
		c.mu.Lock()
		c.lru.moveToFront(ent)
		c.mu.Unlock()
		if publish != nil {
			publish(lease.Result[V]{Value: val, Code: codecFailureCode, Err: cerr})
		}
		ent.mu.Lock()
		ent.cond.Broadcast()
		ent.mu.Unlock()
		return nil, 0, codecFailureCode, cerr
	}

	ent.compressed, ent.origSize = buf, sz
	ent.status = statusReady
	ent.ttlExpiry = c.ttlExpiryFor(now, c.opt.PositiveTTL)
	ent.mu.Unlock()

	c.mu.Lock()
	c.lru.moveToFront(ent)
	c.mu.Unlock()

	if publish != nil {
		publish(lease.Result[V]{Value: val, Code: handlerCode, Err: nil})
	}

	ent.mu.Lock()
	ent.cond.Broadcast()
	ent.mu.Unlock()

	return buf, sz, handlerCode, nil
}

// Decompress reconstitutes V from bytes previously returned by
// GetOrComputeCompressed.
func (c *Cache[K, V]) Decompress(compressed []byte, origSize int) (V, error) {
	return decompressValue(c.opt.Serializer, compressed, origSize)
}
