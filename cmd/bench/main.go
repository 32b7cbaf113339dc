// Command bench runs a synthetic Zipfian workload against the cache and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvandorn/flightcache/cache"
	pmet "github.com/dvandorn/flightcache/metrics/prom"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var (
		capacity    = flag.Int("cap", 100_000, "cache capacity (entries)")
		compression = flag.Bool("compression", false, "exercise GetOrComputeCompressed instead of GetOrCompute")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read (GetOrCompute) percentage [0..100]; the rest is Set")

		keys        = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS       = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV       = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload     = flag.Int("preload", 0, "preload entries (0 = cap/2)")
		missLatency = flag.Duration("miss_latency", 0, "simulated MissHandler latency")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	metrics := pmet.New(nil, "flightcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	missHandler := func(_ context.Context, key string, _ any) (string, int8, error) {
		if *missLatency > 0 {
			time.Sleep(*missLatency)
		}
		return "v:" + key, 0, nil
	}

	c := cache.New[string, string](cache.Options[string, string]{
		Capacity:    *capacity,
		PositiveTTL: time.Minute,
		NegativeTTL: time.Second,
		MissHandler: missHandler,
		Metrics:     metrics,
		Compression: *compression,
	})

	pl := *preload
	if pl == 0 {
		pl = *capacity / 2
	}
	for i := 0; i < pl; i++ {
		k := "k:" + strconv.Itoa(i)
		c.Set(k, "v"+strconv.Itoa(i))
	}

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	useCompression := *compression

	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					k := keyByZipf()
					var err error
					if useCompression {
						_, _, _, err = c.GetOrComputeCompressed(ctx, k, nil)
					} else {
						_, _, err = c.GetOrCompute(ctx, k, nil)
					}
					if err == nil {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					k := keyByZipf()
					c.Set(k, "v"+strconv.Itoa(localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("cap=%d compression=%v workers=%d keys=%d dur=%v seed=%d\n",
		*capacity, useCompression, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN)
	fmt.Printf("ok=%d  errors=%d  ok-rate=%.2f%%\n", hitsN, missesN, hitRate)
	fmt.Printf("stats=%+v\n", c.Stats())
}
