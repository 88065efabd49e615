// Package store provides the attempt-entry persistence layer: a common
// Store contract, file, Redis, and in-memory backends, and the probe
// logic that picks the first working backend at startup.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable indicates the backing storage is unreachable or
	// rejected the operation.
	ErrUnavailable = errors.New("attempt store unavailable")
	// ErrCorruptEntry indicates a persisted record could not be decoded.
	ErrCorruptEntry = errors.New("corrupt attempt entry")
)

// DefaultRetention bounds how long an untouched entry may survive before
// a sweep removes it. It is independent of any block duration.
const DefaultRetention = 24 * time.Hour

// Entry is the persisted attempt record for a single client key.
// Timestamps are unix epoch milliseconds so records stay comparable
// across backends and instance restarts.
type Entry struct {
	Attempts     int   `json:"attempts"`
	FirstAttempt int64 `json:"firstAttempt"`
	LastAttempt  int64 `json:"lastAttempt"`
}

// Store is a namespaced attempt-entry backend. Implementations own their
// namespace prefixing; callers pass logical keys and get logical keys back.
//
// Get reports absent (not an error) for missing keys, and deletes records
// it cannot decode before reporting them absent. Set sweeps its own
// namespace and retries once when the first write fails. Delete is
// idempotent. Clear and Keys touch only this store's namespace.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context) (int, error)
}

func encodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return data, nil
}

// decodeEntry rejects records missing any of the three fields so a
// truncated or foreign payload reads as corrupt rather than as a zero entry.
func decodeEntry(data []byte) (Entry, error) {
	var raw struct {
		Attempts     *int   `json:"attempts"`
		FirstAttempt *int64 `json:"firstAttempt"`
		LastAttempt  *int64 `json:"lastAttempt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if raw.Attempts == nil || raw.FirstAttempt == nil || raw.LastAttempt == nil {
		return Entry{}, fmt.Errorf("%w: missing field", ErrCorruptEntry)
	}
	return Entry{
		Attempts:     *raw.Attempts,
		FirstAttempt: *raw.FirstAttempt,
		LastAttempt:  *raw.LastAttempt,
	}, nil
}

const probeKey = "__attemptgate_probe__"

// Select probes candidates in order with a write/read/remove cycle and
// binds the first one that completes it. The winner gets a retention sweep
// before it is returned. Probing happens exactly once; a backend that dies
// later is not replaced until the process restarts and selects again.
// When every candidate fails, Select logs the degradation and returns
// [Noop], which persists nothing.
func Select(ctx context.Context, logger *zap.Logger, candidates ...Store) Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, c := range candidates {
		if c == nil {
			continue
		}
		if err := probe(ctx, c); err != nil {
			logger.Warn("attempt store failed probe",
				zap.String("store", c.Name()),
				zap.Error(err))
			continue
		}

		if purged, err := c.Sweep(ctx); err != nil {
			logger.Warn("retention sweep failed",
				zap.String("store", c.Name()),
				zap.Error(err))
		} else if purged > 0 {
			logger.Info("retention sweep purged stale entries",
				zap.String("store", c.Name()),
				zap.Int("purged", purged))
		}

		logger.Info("attempt store selected", zap.String("store", c.Name()))
		return c
	}

	logger.Warn("no attempt store survived probing; attempt persistence disabled")
	return Noop{}
}

func probe(ctx context.Context, s Store) error {
	now := time.Now().UnixMilli()
	want := Entry{Attempts: 1, FirstAttempt: now, LastAttempt: now}

	if err := s.Set(ctx, probeKey, want); err != nil {
		return err
	}
	got, ok, err := s.Get(ctx, probeKey)
	if err != nil {
		return err
	}
	if !ok || got != want {
		return fmt.Errorf("%w: probe entry did not read back", ErrUnavailable)
	}
	return s.Delete(ctx, probeKey)
}
