package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "ag:"

// Redis stores entries as JSON strings under "ag:<namespace>:<key>" with
// a TTL equal to the retention ceiling, so Redis enforces staleness
// cleanup natively on top of the explicit sweep.
type Redis struct {
	client    redis.UniversalClient
	namespace string
	retention time.Duration
	logger    *zap.Logger
}

// NewRedis creates a Redis-backed store on the given client. retention <= 0
// falls back to [DefaultRetention]; a nil logger is replaced with a no-op.
func NewRedis(client redis.UniversalClient, namespace string, retention time.Duration, logger *zap.Logger) *Redis {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:    client,
		namespace: namespace,
		retention: retention,
		logger:    logger,
	}
}

var _ Store = (*Redis)(nil)

// Name identifies this backend in probe logs and degradation events.
func (r *Redis) Name() string { return "redis" }

func (r *Redis) key(key string) string {
	return redisKeyPrefix + r.namespace + ":" + key
}

func (r *Redis) pattern() string {
	return redisKeyPrefix + r.namespace + ":*"
}

// Get reads the entry for key. A record that fails to decode is deleted
// and reported absent.
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		r.logger.Warn("dropping corrupt attempt entry",
			zap.String("key", key),
			zap.Error(err))
		_ = r.client.Del(ctx, r.key(key)).Err()
		return Entry{}, false, nil
	}

	return entry, true, nil
}

// Set writes the entry for key. A rejected write (for example OOM under a
// noeviction policy) triggers one namespace sweep and one retry.
func (r *Redis) Set(ctx context.Context, key string, entry Entry) error {
	err := r.write(ctx, key, entry)
	if err == nil {
		return nil
	}

	r.logger.Warn("attempt write failed",
		zap.String("key", key),
		zap.Error(err))
	if purged, sweepErr := r.Sweep(ctx); sweepErr == nil && purged > 0 {
		r.logger.Info("purged stale attempt entries before retry",
			zap.Int("purged", purged))
	}

	return r.write(ctx, key, entry)
}

func (r *Redis) write(ctx context.Context, key string, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, r.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes every entry in this store's namespace. Other namespaces
// sharing the same Redis are untouched.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Keys lists the logical keys currently persisted in this namespace.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	full, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}

	prefix := redisKeyPrefix + r.namespace + ":"
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

// Sweep deletes entries whose last attempt is older than the retention
// ceiling. With the TTL already bounding record lifetime this mostly
// reclaims clock-skewed leftovers, but it keeps the adapter contract
// uniform across backends.
func (r *Redis) Sweep(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-r.retention).UnixMilli()
	purged := 0
	for _, key := range keys {
		entry, ok, err := r.Get(ctx, key)
		if err != nil {
			return purged, err
		}
		if !ok {
			purged++
			continue
		}
		if entry.LastAttempt < cutoff {
			if err := r.Delete(ctx, key); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}

func (r *Redis) scanKeys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)

	for {
		batch, next, err := r.client.Scan(ctx, cursor, r.pattern(), 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
