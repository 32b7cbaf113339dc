package cache

import "github.com/dvandorn/flightcache/internal/util"

// loadFactorNumerator/Denominator implement the bucket sizing contract:
// bucket count >= ceil(1.3 * cache capacity).
const (
	loadFactorNumerator   = 13
	loadFactorDenominator = 10
)

// index is a separate-chaining hash table keyed by key equality. It owns
// entries and yields stable references to them for as long as the cache
// holds them; growing or shrinking never happens after construction,
// since capacity is fixed for the cache's lifetime, so bucket slices are
// never reallocated and pointers into the chains never move.
//
// A bare Go map cannot offer this contract on its own terms: bucket
// count is tied to a fixed load factor (>= 1.3x capacity) and stable
// chain-node addresses are required, neither of which map[K]V exposes
// or guarantees, so this is hand-rolled rather than built on the
// builtin map (see DESIGN.md's stdlib justification).
type index[K comparable, V any] struct {
	buckets []*entry[K, V]
	mask    uint64
	hash    func(K) uint64
	eq      func(a, b K) bool
	size    int
}

func newIndex[K comparable, V any](capacity int, hash func(K) uint64) *index[K, V] {
	want := (uint64(capacity)*loadFactorNumerator + loadFactorDenominator - 1) / loadFactorDenominator
	if want < 1 {
		want = 1
	}
	n := util.NextPow2(want)
	return &index[K, V]{
		buckets: make([]*entry[K, V], n),
		mask:    n - 1,
		hash:    hash,
		eq:      func(a, b K) bool { return a == b },
	}
}

func (ix *index[K, V]) bucketIdx(key K) uint64 {
	return ix.hash(key) & ix.mask
}

// lookup returns the entry for key, or nil.
func (ix *index[K, V]) lookup(key K) *entry[K, V] {
	for e := ix.buckets[ix.bucketIdx(key)]; e != nil; e = e.bucketNext {
		if ix.eq(e.key, key) {
			return e
		}
	}
	return nil
}

// insert adds e to the table. Caller guarantees key is not already present.
func (ix *index[K, V]) insert(e *entry[K, V]) {
	b := ix.bucketIdx(e.key)
	e.bucketNext = ix.buckets[b]
	ix.buckets[b] = e
	ix.size++
}

// remove unlinks e from its chain. No-op if e is not present.
func (ix *index[K, V]) remove(e *entry[K, V]) {
	b := ix.bucketIdx(e.key)
	cur := ix.buckets[b]
	var prev *entry[K, V]
	for cur != nil {
		if cur == e {
			if prev == nil {
				ix.buckets[b] = cur.bucketNext
			} else {
				prev.bucketNext = cur.bucketNext
			}
			cur.bucketNext = nil
			ix.size--
			return
		}
		prev = cur
		cur = cur.bucketNext
	}
}
