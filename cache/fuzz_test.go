//go:build go1.18

package cache

import (
	"strings"
	"testing"
	"time"
)

// Fuzz basic Insert/Has/Remove semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
func FuzzCache_InsertHasRemove(f *testing.F) {
	f.Add("", "")
	f.Add("a", "1")
	f.Add("b", "2")
	f.Add("αβγ", "δ")
	f.Add("emoji🙂", "🙂🙂")
	f.Add("long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		c := New[string, string](Options[string, string]{Capacity: 16, PositiveTTL: time.Minute})

		if _, ok := c.Insert(k, v); !ok {
			t.Fatalf("Insert on fresh key must succeed")
		}
		if !c.Has(k) {
			t.Fatalf("after Insert: key must be present")
		}

		// Insert of an existing key must not overwrite and must fail.
		if _, ok := c.Insert(k, "other"); ok {
			t.Fatalf("Insert duplicate returned true")
		}

		if !c.Remove(k) {
			t.Fatalf("Remove must return true")
		}
		if c.Has(k) {
			t.Fatalf("key must be absent after Remove")
		}

		// After removal, Insert should succeed again.
		if _, ok := c.Insert(k, v); !ok {
			t.Fatalf("Insert after Remove must return true")
		}
	})
}
