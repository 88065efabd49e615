package attemptgate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/attemptgate/attemptgate/store"
)

// fakeClock drives the limiter's time source so window and block math
// is exact instead of sleep-based.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// gateTestConfig returns a base config with a low threshold: three
// attempts per minute, five-minute block.
func gateTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = "test"
	cfg.MaxAttempts = 3
	cfg.Window = time.Minute
	cfg.BlockDuration = 5 * time.Minute
	return cfg
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *store.Memory, *fakeClock) {
	t.Helper()

	st := store.NewMemory(cfg.Namespace, cfg.Retention)
	l, err := New(st, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(l.Close)

	clk := newFakeClock()
	l.now = clk.Now
	return l, st, clk
}

// deadStore fails every operation, standing in for a backend that died
// after probing succeeded.
type deadStore struct{}

func (deadStore) Name() string { return "dead" }
func (deadStore) Get(context.Context, string) (store.Entry, bool, error) {
	return store.Entry{}, false, store.ErrUnavailable
}
func (deadStore) Set(context.Context, string, store.Entry) error { return store.ErrUnavailable }
func (deadStore) Delete(context.Context, string) error           { return store.ErrUnavailable }
func (deadStore) Clear(context.Context) error                    { return store.ErrUnavailable }
func (deadStore) Keys(context.Context) ([]string, error)         { return nil, store.ErrUnavailable }
func (deadStore) Sweep(context.Context) (int, error)             { return 0, store.ErrUnavailable }

// countingStore counts reads that actually reach the backend.
type countingStore struct {
	store.Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) (store.Entry, bool, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func TestNew_RejectsBadInput(t *testing.T) {
	if _, err := New(nil, gateTestConfig()); err == nil {
		t.Fatal("expected error for nil store")
	}

	cfg := gateTestConfig()
	cfg.MaxAttempts = 0
	if _, err := New(store.NewMemory("test", 0), cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestLimiter_BlocksExactlyAtThreshold(t *testing.T) {
	l, _, _ := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	// Two attempts stay under the threshold of three.
	for i := 0; i < 2; i++ {
		l.RecordAttempt(ctx, "alice")
		if l.IsRateLimited(ctx, "alice") {
			t.Fatalf("attempt %d: expected not limited below threshold", i+1)
		}
	}

	// The third attempt reaches the threshold and blocks.
	l.RecordAttempt(ctx, "alice")
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited at threshold")
	}
	if got := l.Attempts(ctx, "alice"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestLimiter_BlockReleasesExactlyAtDuration(t *testing.T) {
	l, _, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}

	// One millisecond before the block lapses the key is still held.
	clk.Advance(5*time.Minute - time.Millisecond)
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited just before block expiry")
	}

	// At exactly the block duration the key is forgiven outright.
	clk.Advance(time.Millisecond)
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected unlimited at block expiry")
	}
	if got := l.Attempts(ctx, "alice"); got != 0 {
		t.Fatalf("expected forgiven key to have 0 attempts, got %d", got)
	}
}

func TestLimiter_BlockRunsFromLastAttempt(t *testing.T) {
	l, _, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	l.RecordAttempt(ctx, "alice")
	clk.Advance(10 * time.Second)
	l.RecordAttempt(ctx, "alice")
	clk.Advance(10 * time.Second)
	l.RecordAttempt(ctx, "alice")

	// Block measures from the third attempt at t=20s, so t=20s+5m is
	// the release point.
	clk.Advance(5*time.Minute - time.Second)
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited one second before release")
	}
	clk.Advance(time.Second)
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected unlimited at release point")
	}
}

func TestLimiter_WindowResetOnReadYieldsSingleAttempt(t *testing.T) {
	l, st, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	l.RecordAttempt(ctx, "alice")

	// Past the window with only one attempt recorded, the check itself
	// restarts the window rather than leaving a stale entry behind.
	clk.Advance(70 * time.Second)
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected not limited after window lapsed")
	}
	if got := l.Attempts(ctx, "alice"); got != 1 {
		t.Fatalf("expected reset entry with 1 attempt, got %d", got)
	}

	// The persisted entry restarted at the reset time, not at t=0.
	entry, ok, err := st.Get(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("expected persisted entry, got ok=%v err=%v", ok, err)
	}
	if entry.FirstAttempt != 70000 || entry.LastAttempt != 70000 {
		t.Fatalf("expected window restarted at 70000, got first=%d last=%d", entry.FirstAttempt, entry.LastAttempt)
	}
}

func TestLimiter_IdlePastBlockDurationForgiven(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Metrics.Enabled = true
	l, st, clk := newTestLimiter(t, cfg)
	ctx := context.Background()

	// One attempt, far under the threshold, then a long silence.
	l.RecordAttempt(ctx, "alice")
	clk.Advance(6*time.Minute + 40*time.Second)

	// Idle past the block duration, the entry is dropped on read rather
	// than re-dated into a fresh window.
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected not limited after long idle")
	}
	if got := l.Attempts(ctx, "alice"); got != 0 {
		t.Fatalf("expected idle entry forgiven to 0 attempts, got %d", got)
	}
	if _, ok, _ := st.Get(ctx, "alice"); ok {
		t.Fatal("expected idle entry removed from store")
	}

	// Forgiveness is total, so blocking again takes the full threshold.
	l.RecordAttempt(ctx, "alice")
	l.RecordAttempt(ctx, "alice")
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected two fresh attempts to stay under the threshold")
	}
	l.RecordAttempt(ctx, "alice")
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited at the fresh threshold")
	}

	// The drop is neither a block expiry nor a window reset.
	snap := l.MetricsSnapshot()
	if got := snap.Counters[MetricBlockExpired]; got != 0 {
		t.Fatalf("expected no block expiry for a key that never blocked, got %d", got)
	}
	if got := snap.Counters[MetricWindowReset]; got != 0 {
		t.Fatalf("expected no window reset for a dropped idle entry, got %d", got)
	}
}

func TestLimiter_RecordAfterWindowStartsFresh(t *testing.T) {
	l, _, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	l.RecordAttempt(ctx, "alice")
	l.RecordAttempt(ctx, "alice")

	clk.Advance(2 * time.Minute)
	l.RecordAttempt(ctx, "alice")

	if got := l.Attempts(ctx, "alice"); got != 1 {
		t.Fatalf("expected fresh window with 1 attempt, got %d", got)
	}
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected not limited in fresh window")
	}
}

func TestLimiter_SlowAttemptsNeverBlock(t *testing.T) {
	l, _, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	// One attempt per 90s: every attempt lands in its own window, so
	// the count never reaches the threshold.
	for i := 0; i < 10; i++ {
		l.RecordAttempt(ctx, "alice")
		if l.IsRateLimited(ctx, "alice") {
			t.Fatalf("attempt %d: expected slow attempts never limited", i+1)
		}
		clk.Advance(90 * time.Second)
	}
}

func TestLimiter_TimeUntilUnblocked(t *testing.T) {
	l, _, clk := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	if got := l.TimeUntilUnblocked(ctx, "alice"); got != 0 {
		t.Fatalf("expected 0 for unknown key, got %v", got)
	}

	l.RecordAttempt(ctx, "alice")
	l.RecordAttempt(ctx, "alice")
	if got := l.TimeUntilUnblocked(ctx, "alice"); got != 0 {
		t.Fatalf("expected 0 below threshold, got %v", got)
	}

	l.RecordAttempt(ctx, "alice")
	if got := l.TimeUntilUnblocked(ctx, "alice"); got != 5*time.Minute {
		t.Fatalf("expected full block duration, got %v", got)
	}

	clk.Advance(2 * time.Minute)
	if got := l.TimeUntilUnblocked(ctx, "alice"); got != 3*time.Minute {
		t.Fatalf("expected 3m remaining, got %v", got)
	}

	clk.Advance(3 * time.Minute)
	if got := l.TimeUntilUnblocked(ctx, "alice"); got != 0 {
		t.Fatalf("expected 0 after block lapsed, got %v", got)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}

	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected alice limited")
	}
	if l.IsRateLimited(ctx, "bob") {
		t.Fatal("expected bob unaffected")
	}
	if got := l.Attempts(ctx, "bob"); got != 0 {
		t.Fatalf("expected 0 attempts for bob, got %d", got)
	}
}

func TestLimiter_ClearReleasesKey(t *testing.T) {
	l, st, _ := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited before clear")
	}

	l.Clear(ctx, "alice")

	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected unlimited after clear")
	}
	if got := l.Attempts(ctx, "alice"); got != 0 {
		t.Fatalf("expected 0 attempts after clear, got %d", got)
	}
	if _, ok, _ := st.Get(ctx, "alice"); ok {
		t.Fatal("expected entry removed from store")
	}
}

func TestLimiter_ClearAllScopedToNamespace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfgLogin := gateTestConfig()
	cfgLogin.Namespace = "login"
	cfgMagic := gateTestConfig()
	cfgMagic.Namespace = "magic"

	login, err := New(store.NewFile(dir, "login", 0, nil), cfgLogin)
	if err != nil {
		t.Fatalf("New login failed: %v", err)
	}
	defer login.Close()
	magic, err := New(store.NewFile(dir, "magic", 0, nil), cfgMagic)
	if err != nil {
		t.Fatalf("New magic failed: %v", err)
	}
	defer magic.Close()

	for i := 0; i < 3; i++ {
		login.RecordAttempt(ctx, "alice")
		magic.RecordAttempt(ctx, "alice")
	}

	login.ClearAll(ctx)

	if login.IsRateLimited(ctx, "alice") {
		t.Fatal("expected login namespace cleared")
	}
	if !magic.IsRateLimited(ctx, "alice") {
		t.Fatal("expected magic namespace untouched")
	}

	// A fresh reader over the login namespace confirms the backend was
	// cleared, not just this limiter's cache.
	reloaded, err := New(store.NewFile(dir, "login", 0, nil), cfgLogin)
	if err != nil {
		t.Fatalf("New reloaded failed: %v", err)
	}
	defer reloaded.Close()
	if got := reloaded.Attempts(ctx, "alice"); got != 0 {
		t.Fatalf("expected cleared backend, got %d attempts", got)
	}
}

func TestLimiter_StateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := gateTestConfig()
	clk := newFakeClock()

	first, err := New(store.NewFile(dir, cfg.Namespace, 0, nil), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	first.now = clk.Now

	for i := 0; i < 3; i++ {
		first.RecordAttempt(ctx, "alice")
	}
	if !first.IsRateLimited(ctx, "alice") {
		t.Fatal("expected limited before restart")
	}
	first.Close()

	// A new limiter over the same directory sees the same block.
	second, err := New(store.NewFile(dir, cfg.Namespace, 0, nil), cfg)
	if err != nil {
		t.Fatalf("New after restart failed: %v", err)
	}
	defer second.Close()
	second.now = clk.Now

	if !second.IsRateLimited(ctx, "alice") {
		t.Fatal("expected block to survive restart")
	}
	if got := second.Attempts(ctx, "alice"); got != 3 {
		t.Fatalf("expected 3 attempts after restart, got %d", got)
	}
	if got := second.TimeUntilUnblocked(ctx, "alice"); got != 5*time.Minute {
		t.Fatalf("expected full block remaining, got %v", got)
	}
}

func TestLimiter_CacheServesRepeatedChecks(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Metrics.Enabled = true
	counting := &countingStore{Store: store.NewMemory(cfg.Namespace, cfg.Retention)}

	l, err := New(counting, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()
	l.now = newFakeClock().Now

	ctx := context.Background()
	l.RecordAttempt(ctx, "alice")

	counting.gets = 0
	for i := 0; i < 50; i++ {
		l.IsRateLimited(ctx, "alice")
	}
	if counting.gets != 0 {
		t.Fatalf("expected cached checks to skip the store, got %d reads", counting.gets)
	}

	snap := l.MetricsSnapshot()
	if snap.Counters[MetricCacheHit] < 50 {
		t.Fatalf("expected at least 50 cache hits, got %d", snap.Counters[MetricCacheHit])
	}
}

func TestLimiter_FailingStoreFailsOpen(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Metrics.Enabled = true

	l, err := New(deadStore{}, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()
	l.now = newFakeClock().Now

	ctx := context.Background()

	// Reads against the dead backend degrade to "not limited".
	if l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected not limited when store is down")
	}

	// Writes are swallowed and the cache carries the count, so the
	// limit still holds within this process.
	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}
	if got := l.Attempts(ctx, "alice"); got != 3 {
		t.Fatalf("expected cache to carry 3 attempts, got %d", got)
	}
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected in-process block despite dead store")
	}

	snap := l.MetricsSnapshot()
	if snap.Counters[MetricStoreWriteError] == 0 {
		t.Fatal("expected write errors to be counted")
	}
}

func TestLimiter_MetricsTrackLifecycle(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Metrics.Enabled = true
	l, _, clk := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}
	l.IsRateLimited(ctx, "alice")
	clk.Advance(6 * time.Minute)
	l.IsRateLimited(ctx, "alice")

	snap := l.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricAttemptRecorded: 3,
		MetricBlockTriggered:  1,
		MetricCheckBlocked:    1,
		MetricBlockExpired:    1,
		MetricCheckAllowed:    1,
	}
	for id, n := range want {
		if snap.Counters[id] != n {
			t.Fatalf("metric %d: expected %d, got %d", id, n, snap.Counters[id])
		}
	}
}

func TestLimiter_ConcurrentUse(t *testing.T) {
	l, _, _ := newTestLimiter(t, gateTestConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := []string{"alice", "bob"}[g%2]
			for i := 0; i < 200; i++ {
				l.RecordAttempt(ctx, key)
				l.IsRateLimited(ctx, key)
				l.Attempts(ctx, key)
				l.TimeUntilUnblocked(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	// Both keys saw 800 recorded attempts inside one window.
	if !l.IsRateLimited(ctx, "alice") || !l.IsRateLimited(ctx, "bob") {
		t.Fatal("expected both keys limited after concurrent hammering")
	}
}

func TestOpen_UsesConfiguredDir(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Dir = t.TempDir()
	ctx := context.Background()

	l, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	if got := l.Store().Name(); got != "file" {
		t.Fatalf("expected file store selected, got %q", got)
	}

	l.RecordAttempt(ctx, "alice")

	files, err := os.ReadDir(filepath.Join(cfg.Dir, cfg.Namespace))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(files))
	}
}

func TestOpen_DegradesToNoopWhenNothingWritable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Both the configured dir and the temp dir descend from a regular
	// file, so every file-store probe fails.
	cfg := gateTestConfig()
	cfg.Dir = filepath.Join(blocker, "state")
	t.Setenv("TMPDIR", filepath.Join(blocker, "tmp"))

	// Room for the degradation event plus everything recorded below,
	// so the drain on Close never stalls against a full sink.
	sink := NewChannelSink(8)
	cfg.Events.Enabled = true
	cfg.Events.BufferSize = 8
	cfg.Events.Sink = sink

	ctx := context.Background()
	l, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got := l.Store().Name(); got != "noop" {
		t.Fatalf("expected noop fallback, got %q", got)
	}

	// The cache still limits within this process.
	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected in-process limiting on noop store")
	}
	l.Close()

	select {
	case ev := <-sink.Events():
		if ev.Type != EventStorageDegraded {
			t.Fatalf("expected storage_degraded first, got %q", ev.Type)
		}
		if ev.Store != "noop" {
			t.Fatalf("expected store noop in event, got %q", ev.Store)
		}
	default:
		t.Fatal("expected a storage_degraded event")
	}
}

func TestLimiter_ReportReflectsPosture(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Metrics.Enabled = true
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	l.RecordAttempt(ctx, "alice")
	l.RecordAttempt(ctx, "bob")

	report := l.Report()
	if report.Namespace != "test" || report.MaxAttempts != 3 {
		t.Fatalf("unexpected limits in report: %+v", report)
	}
	if report.Store != "memory" || report.Degraded {
		t.Fatalf("expected healthy memory store in report, got %+v", report)
	}
	if !report.MetricsEnabled || report.EventsEnabled {
		t.Fatalf("expected metrics on and events off, got %+v", report)
	}
	if report.TrackedKeys != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", report.TrackedKeys)
	}

	dead, err := New(store.Noop{}, gateTestConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer dead.Close()
	if r := dead.Report(); !r.Degraded {
		t.Fatalf("expected degraded report on noop store, got %+v", r)
	}

	var nilLimiter *Limiter
	if got := nilLimiter.Report(); got != (Report{}) {
		t.Fatalf("nil limiter should report the zero value, got %+v", got)
	}
}

func TestLimiter_ConfigCopiedAtBuild(t *testing.T) {
	cfg := gateTestConfig()
	l, _, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	// Mutating the caller's config after construction must not move the
	// threshold the limiter enforces.
	cfg.MaxAttempts = 100

	for i := 0; i < 3; i++ {
		l.RecordAttempt(ctx, "alice")
	}
	if !l.IsRateLimited(ctx, "alice") {
		t.Fatal("expected the original threshold of 3 to still apply")
	}
}
