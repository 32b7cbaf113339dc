package cache

import "errors"

var (
	// ErrCapacityExhausted is returned by GetOrCompute, TryGetOrCompute and
	// GetOrComputeCompressed when every resident entry is CALCULATING and
	// none can be evicted to make room. Insert reports the same condition
	// as a false result, and Set stores nothing.
	ErrCapacityExhausted = errors.New("cache: capacity exhausted, no evictable entry")

	// ErrNoMissHandler is returned by GetOrCompute when the cache was
	// constructed without Options.MissHandler.
	ErrNoMissHandler = errors.New("cache: no miss handler configured")

	// ErrCompressionDisabled is returned by GetOrComputeCompressed when the
	// cache was constructed with Options.Compression == false.
	ErrCompressionDisabled = errors.New("cache: compression not enabled")

	// ErrCacheClosed is returned by GetOrCompute, TryGetOrCompute and
	// GetOrComputeCompressed on a closed cache.
	ErrCacheClosed = errors.New("cache: closed")
)

// codecFailureCode is the ad-hoc code reserved for serialization/compression
// failures surfaced through the FAILED status.
const codecFailureCode int8 = -1
