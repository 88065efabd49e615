package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/attemptgate/attemptgate"
	"github.com/attemptgate/attemptgate/store"
)

func main() {
	var (
		keys        = flag.Int("keys", 100000, "number of client keys to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (check + record)")
		maxAttempts = flag.Int("max-attempts", 5, "attempts before a key blocks")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "loadtest", "limiter namespace")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	// Windows are stretched past any plausible run time so the phases
	// measure steady-state behavior, not expiry churn.
	cfg := attemptgate.DefaultConfig()
	cfg.Namespace = *namespace
	cfg.MaxAttempts = *maxAttempts
	cfg.Window = 24 * time.Hour
	cfg.BlockDuration = 24 * time.Hour
	cfg.Metrics.Enabled = true

	gate, err := attemptgate.New(store.NewRedis(client, cfg.Namespace, cfg.Retention, nil), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "limiter build failed: %v\n", err)
		os.Exit(1)
	}
	defer gate.Close()
	defer func() { _ = gate.Store().Clear(ctx) }()

	names := make([]string, *keys)
	fmt.Printf("seeding %d keys...\n", *keys)
	startSeed := time.Now()
	for i := 0; i < *keys; i++ {
		names[i] = fmt.Sprintf("key-%d", i)
		gate.RecordAttempt(ctx, names[i])
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	checkStats := runCheckPhase(ctx, gate, names, *ops, *concurrency)
	recordStats := runRecordPhase(ctx, gate, names, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("check", checkStats)
	printStats("record", recordStats)

	snap := gate.MetricsSnapshot()
	fmt.Printf("counters: allowed=%d blocked=%d cache_hit=%d cache_miss=%d write_errors=%d\n",
		snap.Counters[attemptgate.MetricCheckAllowed],
		snap.Counters[attemptgate.MetricCheckBlocked],
		snap.Counters[attemptgate.MetricCacheHit],
		snap.Counters[attemptgate.MetricCacheMiss],
		snap.Counters[attemptgate.MetricStoreWriteError],
	)
}

// runCheckPhase hammers IsRateLimited over random keys. After the first
// touch per key the answer comes from the limiter cache, so this phase
// measures the hot read path.
func runCheckPhase(ctx context.Context, gate *attemptgate.Limiter, names []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		blocked   int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(names))
				t0 := time.Now()
				limited := gate.IsRateLimited(ctx, names[idx])
				d := time.Since(t0)
				if limited {
					atomic.AddInt64(&blocked, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, blocked)
}

// runRecordPhase hammers RecordAttempt over random keys, which writes
// through to the backend on every call.
func runRecordPhase(ctx context.Context, gate *attemptgate.Limiter, names []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(names))
				t0 := time.Now()
				gate.RecordAttempt(ctx, names[idx])
				d := time.Since(t0)
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, 0)
}

type phaseStats struct {
	total   time.Duration
	ops     int
	blocked int64
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration, blocked int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:   total,
		ops:     len(samples),
		blocked: blocked,
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		opsPerS: float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d blocked=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.blocked,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
