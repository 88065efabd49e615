package attemptgate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attemptgate/attemptgate/store"
)

// Limiter tracks per-key attempt counts inside a sliding window and
// escalates to a temporary block once MaxAttempts is reached. State
// lives in a storage adapter behind a write-through cache, so decisions
// survive restarts while repeated checks stay off the backend.
//
// All methods are safe for concurrent use. Reads and writes never
// return errors: a failing backend degrades to the cached view and the
// failure is logged.
type Limiter struct {
	config  Config
	store   store.Store
	logger  *zap.Logger
	events  *eventDispatcher
	metrics *Metrics

	mu    sync.Mutex
	cache map[string]store.Entry

	now func() time.Time
}

// New creates a Limiter on an already-selected store. Use Open to get
// the default degrading store chain instead.
func New(st store.Store, cfg Config) (*Limiter, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newLimiter(st, cfg), nil
}

// Open probes the default store chain for cfg and returns a Limiter
// bound to the first healthy candidate: a durable file store under
// cfg.Dir, then a file store under the OS temp directory, then the
// no-op store. Landing on the no-op store keeps every call working,
// but attempts survive only in process memory and a restart forgets
// them; that degradation is logged and emitted as
// EventStorageDegraded.
func Open(ctx context.Context, cfg Config) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	dir := cfg.Dir
	if dir == "" {
		dir = defaultStateDir()
	}

	st := store.Select(ctx, logger,
		store.NewFile(dir, cfg.Namespace, cfg.Retention, logger),
		store.NewFile(sessionDir(), cfg.Namespace, cfg.Retention, logger),
	)

	l := newLimiter(st, cfg)
	if _, degraded := st.(store.Noop); degraded {
		l.emit(ctx, EventStorageDegraded, "", 0)
	}
	return l, nil
}

func newLimiter(st store.Store, cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		config:  cfg,
		store:   st,
		logger:  logger,
		events:  newEventDispatcher(cfg.Events),
		metrics: NewMetrics(cfg.Metrics),
		cache:   make(map[string]store.Entry),
		now:     time.Now,
	}
}

// sessionDir is the fallback location when the configured directory is
// not writable. It survives the process but not a reboot.
func sessionDir() string {
	return filepath.Join(os.TempDir(), "attemptgate-session")
}

// IsRateLimited reports whether key is currently blocked. The check
// owns two state transitions: any entry idle for the full block
// duration is deleted outright, blocked or not, and a window that
// lapsed below the threshold is restarted as a fresh single-attempt
// entry. Mutating on read keeps checks and recordings agreeing on the
// same state.
func (l *Limiter) IsRateLimited(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.load(ctx, key)
	if !ok {
		l.metrics.Inc(MetricCheckAllowed)
		return false
	}

	now := l.now().UnixMilli()

	if now-entry.LastAttempt >= l.config.BlockDuration.Milliseconds() {
		// Idle past the block duration. Forgive the key entirely; only
		// an entry that was actually blocked reports an expiry.
		l.drop(ctx, key)
		if entry.Attempts >= l.config.MaxAttempts {
			l.metrics.Inc(MetricBlockExpired)
			l.emit(ctx, EventBlockExpired, key, entry.Attempts)
		}
		l.metrics.Inc(MetricCheckAllowed)
		return false
	}

	if entry.Attempts >= l.config.MaxAttempts {
		l.metrics.Inc(MetricCheckBlocked)
		return true
	}

	if now-entry.FirstAttempt > l.config.Window.Milliseconds() {
		// Window lapsed below the threshold. Restart counting instead
		// of carrying stale attempts into the new window.
		reset := store.Entry{Attempts: 1, FirstAttempt: now, LastAttempt: now}
		l.persist(ctx, key, reset)
		l.metrics.Inc(MetricWindowReset)
		l.metrics.Inc(MetricCheckAllowed)
		l.emit(ctx, EventWindowReset, key, reset.Attempts)
		return false
	}

	l.metrics.Inc(MetricCheckAllowed)
	return false
}

// RecordAttempt counts one attempt against key. The first attempt, or
// any attempt after the previous window lapsed, starts a fresh entry;
// otherwise the count grows and the window keeps its original start.
// Reaching MaxAttempts emits EventBlockTriggered.
func (l *Limiter) RecordAttempt(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()

	entry, ok := l.load(ctx, key)
	if !ok || now-entry.FirstAttempt > l.config.Window.Milliseconds() {
		entry = store.Entry{Attempts: 1, FirstAttempt: now, LastAttempt: now}
	} else {
		entry.Attempts++
		entry.LastAttempt = now
	}

	l.persist(ctx, key, entry)
	l.metrics.Inc(MetricAttemptRecorded)
	l.emit(ctx, EventAttemptRecorded, key, entry.Attempts)

	if entry.Attempts == l.config.MaxAttempts {
		l.metrics.Inc(MetricBlockTriggered)
		l.emit(ctx, EventBlockTriggered, key, entry.Attempts)
	}
}

// Attempts returns the recorded attempt count for key. It reads the
// raw entry and applies no window or block handling; pair it with
// IsRateLimited when staleness matters.
func (l *Limiter) Attempts(ctx context.Context, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.load(ctx, key)
	if !ok {
		return 0
	}
	return entry.Attempts
}

// TimeUntilUnblocked returns how much longer key stays blocked, or zero
// when it is not blocked. The block runs from the most recent attempt.
func (l *Limiter) TimeUntilUnblocked(ctx context.Context, key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.load(ctx, key)
	if !ok || entry.Attempts < l.config.MaxAttempts {
		return 0
	}

	elapsed := time.Duration(l.now().UnixMilli()-entry.LastAttempt) * time.Millisecond
	remaining := l.config.BlockDuration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear forgets key in both the cache and the store. Typical use is
// releasing a key after a successful login.
func (l *Limiter) Clear(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.drop(ctx, key)
	l.metrics.Inc(MetricCleared)
	l.emit(ctx, EventKeyCleared, key, 0)
}

// ClearAll forgets every key in this limiter's namespace. Other
// namespaces sharing the backend are untouched.
func (l *Limiter) ClearAll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]store.Entry)
	if err := l.store.Clear(ctx); err != nil {
		l.logger.Warn("attempt store clear failed", zap.Error(err))
	}
	l.metrics.Inc(MetricCleared)
	l.emit(ctx, EventAllCleared, "", 0)
}

// Close flushes and stops the event dispatcher. The limiter must not
// be used after Close.
func (l *Limiter) Close() {
	l.events.Close()
}

// Store exposes the backend this limiter ended up bound to, mainly so
// callers can inspect which tier of a degrading chain won.
func (l *Limiter) Store() store.Store {
	return l.store
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (l *Limiter) MetricsSnapshot() MetricsSnapshot {
	return l.metrics.Snapshot()
}

// EventsDropped reports how many events the dispatcher shed under
// backpressure.
func (l *Limiter) EventsDropped() uint64 {
	return l.events.Dropped()
}

// load is the read-through path. Cache hits skip the store; misses
// consult it and cache only present entries, so a record written by
// another process stays visible until this one caches its own state.
// Callers must hold l.mu.
func (l *Limiter) load(ctx context.Context, key string) (store.Entry, bool) {
	if entry, ok := l.cache[key]; ok {
		l.metrics.Inc(MetricCacheHit)
		return entry, true
	}
	l.metrics.Inc(MetricCacheMiss)

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("attempt entry read failed",
			zap.String("key", key),
			zap.Error(err))
		return store.Entry{}, false
	}
	if ok {
		l.cache[key] = entry
	}
	return entry, ok
}

// persist is the write-through path. The cache is updated first so the
// decision holds for this process even when the store write fails.
// Callers must hold l.mu.
func (l *Limiter) persist(ctx context.Context, key string, entry store.Entry) {
	l.cache[key] = entry
	if err := l.store.Set(ctx, key, entry); err != nil {
		l.metrics.Inc(MetricStoreWriteError)
		l.logger.Warn("attempt entry not persisted",
			zap.String("key", key),
			zap.Error(err))
	}
}

// drop removes key from the cache and the store. Callers must hold l.mu.
func (l *Limiter) drop(ctx context.Context, key string) {
	delete(l.cache, key)
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Warn("attempt entry not deleted",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (l *Limiter) emit(ctx context.Context, typ EventType, key string, attempts int) {
	if l.events == nil {
		return
	}
	l.events.Emit(ctx, Event{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Type:      typ,
		Namespace: l.config.Namespace,
		Key:       key,
		Attempts:  attempts,
		Store:     l.store.Name(),
	})
}
