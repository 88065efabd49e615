package attemptgate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attemptgate/attemptgate/store"
)

// Config controls one Limiter instance. The zero value is not usable;
// start from DefaultConfig or a preset and override what you need.
type Config struct {
	// Namespace isolates this limiter's records from other limiters
	// sharing a backend. Letters, digits, '.', '_' and '-' only.
	Namespace string

	// MaxAttempts is the attempt count at which a key becomes blocked.
	MaxAttempts int

	// Window bounds how long attempts accumulate toward MaxAttempts,
	// measured from the first attempt. A key whose window lapses below
	// the threshold restarts counting from scratch.
	Window time.Duration

	// BlockDuration is how long a blocked key stays blocked, measured
	// from its most recent attempt.
	BlockDuration time.Duration

	// Dir is the state directory for the durable store built by Open.
	// Empty means a per-user cache directory.
	Dir string

	// Retention caps how long an untouched record survives in storage
	// before a sweep removes it.
	Retention time.Duration

	// Logger receives degradation and swallowed-error reports. Nil
	// disables logging.
	Logger *zap.Logger

	Events  EventsConfig
	Metrics MetricsConfig
}

// EventsConfig controls the asynchronous event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking
	// limiter calls. Shed counts are reported by Limiter.EventsDropped.
	DropIfFull bool
	Sink       EventSink
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
PRESETS
====================================
*/

// DefaultConfig returns the baseline configuration: five attempts per
// fifteen-minute window, fifteen-minute block, day-long retention.
func DefaultConfig() Config {
	return Config{
		Namespace:     "attempts",
		MaxAttempts:   5,
		Window:        15 * time.Minute,
		BlockDuration: 15 * time.Minute,
		Retention:     store.DefaultRetention,
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// LoginConfig is tuned for gating password login forms.
func LoginConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = "login"
	return cfg
}

// MagicLinkConfig is tuned for gating link and code sends: three
// requests per minute, five-minute block.
func MagicLinkConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = "magiclink"
	cfg.MaxAttempts = 3
	cfg.Window = time.Minute
	cfg.BlockDuration = 5 * time.Minute
	return cfg
}

func defaultStateDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "attemptgate")
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field. A config that fails here is
// a programming error and construction refuses it outright.
func (c *Config) Validate() error {
	// Namespace
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("Namespace must not be empty")
	}
	for _, r := range c.Namespace {
		if !isNamespaceRune(r) {
			return errors.New("Namespace may contain only letters, digits, '.', '_' and '-'")
		}
	}

	// Limits
	if c.MaxAttempts <= 0 {
		return errors.New("MaxAttempts must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("Window must be > 0")
	}
	if c.BlockDuration <= 0 {
		return errors.New("BlockDuration must be > 0")
	}
	if c.Retention <= 0 {
		return errors.New("Retention must be > 0")
	}

	// Events
	if c.Events.Enabled {
		if c.Events.BufferSize <= 0 {
			return errors.New("Events BufferSize must be > 0 when events are enabled")
		}
	}

	return nil
}

func isNamespaceRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}
