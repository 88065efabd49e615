package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const entryExt = ".json"

// File persists one JSON file per key under dir/namespace. Writes go
// through a temp file and rename so a crash mid-write never leaves a
// half-written record behind. Key names are base64url-encoded, which
// keeps arbitrary client keys (emails, fingerprints) filesystem-safe.
type File struct {
	dir       string
	namespace string
	retention time.Duration
	logger    *zap.Logger
}

// NewFile creates a file-backed store rooted at dir. retention <= 0 falls
// back to [DefaultRetention]; a nil logger is replaced with a no-op.
func NewFile(dir, namespace string, retention time.Duration, logger *zap.Logger) *File {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &File{
		dir:       dir,
		namespace: namespace,
		retention: retention,
		logger:    logger,
	}
}

var _ Store = (*File)(nil)

// Name identifies this backend in probe logs and degradation events.
func (f *File) Name() string { return "file" }

func (f *File) root() string {
	return filepath.Join(f.dir, f.namespace)
}

func (f *File) path(key string) string {
	return filepath.Join(f.root(), encodeKey(key)+entryExt)
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKeyName(name string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, entryExt))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Get reads the entry for key. A record that fails to decode is deleted
// and reported absent so the caller restarts the window cleanly.
func (f *File) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		f.logger.Warn("dropping corrupt attempt entry",
			zap.String("key", key),
			zap.Error(err))
		_ = os.Remove(f.path(key))
		return Entry{}, false, nil
	}

	return entry, true, nil
}

// Set writes the entry for key. A failed write usually means a full or
// read-only volume, so Set purges whatever the retention sweep can
// reclaim and retries exactly once before giving up.
func (f *File) Set(ctx context.Context, key string, entry Entry) error {
	err := f.write(key, entry)
	if err == nil {
		return nil
	}

	f.logger.Warn("attempt write failed",
		zap.String("key", key),
		zap.Error(err))
	if purged, sweepErr := f.Sweep(ctx); sweepErr == nil && purged > 0 {
		f.logger.Info("purged stale attempt entries before retry",
			zap.Int("purged", purged))
	}

	return f.write(key, entry)
}

func (f *File) write(key string, entry Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	root := f.root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tmp, err := os.CreateTemp(root, ".write-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		if werr == nil {
			werr = cerr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, werr)
	}

	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing key is not an error.
func (f *File) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Clear removes every entry in this store's namespace. Other namespaces
// sharing the same dir are untouched.
func (f *File) Clear(ctx context.Context) error {
	if err := os.RemoveAll(f.root()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Keys lists the logical keys currently persisted in this namespace.
// Files that do not look like entry records are skipped.
func (f *File) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entryExt) {
			continue
		}
		key, ok := decodeKeyName(de.Name())
		if !ok {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Sweep deletes entries whose last attempt is older than the retention
// ceiling and returns how many records it removed.
func (f *File) Sweep(ctx context.Context) (int, error) {
	keys, err := f.Keys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-f.retention).UnixMilli()
	purged := 0
	for _, key := range keys {
		entry, ok, err := f.Get(ctx, key)
		if err != nil {
			return purged, err
		}
		if !ok {
			// Get dropped a corrupt record while we were scanning.
			purged++
			continue
		}
		if entry.LastAttempt < cutoff {
			if err := f.Delete(ctx, key); err != nil {
				return purged, err
			}
			purged++
		}
	}
	return purged, nil
}
