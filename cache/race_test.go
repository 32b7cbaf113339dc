package cache

import (
	"context"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// A mixed workload of concurrent Insert/Set/Has/Touch/Remove/GetOrCompute
// on random keys. Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		Capacity:    8_192,
		PositiveTTL: 50 * time.Millisecond,
		NegativeTTL: 10 * time.Millisecond,
		MissHandler: func(_ context.Context, key string, _ any) ([]byte, int8, error) {
			return []byte("x"), 0, nil
		},
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% — Remove
					c.Remove(k)
				case 5, 6, 7, 8, 9: // ~5% — Expire
					c.Expire(k)
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% — Set
					c.Set(k, []byte("x"))
				case 20, 21, 22, 23, 24: // ~5% — GetOrCompute
					_, _, _ = c.GetOrCompute(context.Background(), k, nil)
				default: // ~75% — Has/Touch
					if r.Intn(2) == 0 {
						c.Has(k)
					} else {
						c.Touch(k)
					}
				}
			}
		}(w)
	}
	wg.Wait()
}

// One hundred goroutines call GetOrCompute on the same key concurrently.
// The miss handler must run exactly once (single-flight coalescing).
func TestRace_GetOrCompute(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		Capacity:    1024,
		PositiveTTL: time.Minute,
		MissHandler: func(_ context.Context, key string, _ any) (string, int8, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(2 * time.Millisecond)
			return "v:" + key, 0, nil
		},
	})

	const goroutines = 100
	key := "same-key"

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, _, err := c.GetOrCompute(context.Background(), key, nil)
			if err != nil {
				t.Errorf("GetOrCompute error: %v", err)
				return
			}
			if v != "v:"+key {
				t.Errorf("unexpected value: %q", v)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("miss handler must run exactly once, got %d", got)
	}

	if v, _, err := c.GetOrCompute(context.Background(), key, nil); err != nil || v != "v:"+key {
		t.Fatalf("second GetOrCompute failed: v=%q err=%v", v, err)
	}
}

// Concurrent TryGetOrCompute joiners, some of which cancel their context
// before the leader finishes; none of this should deadlock or race.
func TestRace_TryGetOrCompute_Cancellation(t *testing.T) {
	release := make(chan struct{})
	c := New[string, int](Options[string, int]{
		Capacity:    16,
		PositiveTTL: time.Minute,
		MissHandler: func(_ context.Context, _ string, _ any) (int, int8, error) {
			<-release
			return 42, 0, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ctx := context.Background()
			if id%2 == 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}
			_, _, _ = c.TryGetOrCompute(ctx, "k", nil)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
}
