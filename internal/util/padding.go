// Package util contains internal helpers (hashing, bucket sizing, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "unsafe"

// CacheLineSize is a reasonable default for most modern CPUs.
// std has runtime/internal/sys.CacheLineSize but it's unexported.
// 64 works well in practice.
const CacheLineSize = 64

// PaddedInt64 is a counter padded to one cache line, so that two counters
// updated by different goroutines don't share a cache line. Use only when
// updates happen under a lock; it carries no atomicity of its own.
type PaddedInt64 struct {
	V int64
	_ [CacheLineSize - 8]byte // 8 = size of int64; pad to 64 bytes
}

var _ [CacheLineSize - int(unsafe.Sizeof(PaddedInt64{}))]byte
