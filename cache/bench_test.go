package cache

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
func benchmarkMix(b *testing.B, readsPct int) {
	c := New[string, string](Options[string, string]{
		Capacity:    100_000,
		PositiveTTL: time.Hour,
	})

	for i := 0; i < 50_000; i++ {
		k := "k:" + strconv.Itoa(i)
		c.Set(k, "v")
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := "k:" + strconv.Itoa(i&keyMask)
			if r.Intn(100) < readsPct {
				c.Has(k)
			} else {
				c.Set(k, "v")
			}
			i++
		}
	})
}

func BenchmarkCache_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkCache_50r50w(b *testing.B) { benchmarkMix(b, 50) }

// benchmarkGetOrCompute exercises the single-flight hot path with a warm,
// always-hitting cache (the miss handler should rarely run).
func benchmarkGetOrCompute(b *testing.B) {
	c := New[int, int](Options[int, int]{
		Capacity:    100_000,
		PositiveTTL: time.Hour,
		MissHandler: func(_ context.Context, key int, _ any) (int, int8, error) {
			return key, 0, nil
		},
	})

	ctx := context.Background()
	for i := 0; i < 50_000; i++ {
		_, _, _ = c.GetOrCompute(ctx, i, nil)
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 16) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		for pb.Next() {
			k := r.Intn(keyMask)
			_, _, _ = c.GetOrCompute(ctx, k, nil)
		}
	})
}

func BenchmarkCache_GetOrCompute(b *testing.B) { benchmarkGetOrCompute(b) }
