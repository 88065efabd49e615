package attemptgate

import (
	"time"

	"github.com/attemptgate/attemptgate/store"
)

// Report is a point-in-time summary of a limiter's effective posture,
// for embedders that log their gate settings at startup.
type Report struct {
	Namespace      string
	MaxAttempts    int
	Window         time.Duration
	BlockDuration  time.Duration
	Retention      time.Duration
	Store          string
	Degraded       bool
	EventsEnabled  bool
	MetricsEnabled bool
	TrackedKeys    int
}

// Report describes the running limiter: the limits in force, the store
// it bound to, and how many keys its cache currently tracks. Degraded
// is true when the limiter bottomed out on the no-op store.
func (l *Limiter) Report() Report {
	if l == nil {
		return Report{}
	}

	l.mu.Lock()
	tracked := len(l.cache)
	l.mu.Unlock()

	_, noop := l.store.(store.Noop)

	return Report{
		Namespace:      l.config.Namespace,
		MaxAttempts:    l.config.MaxAttempts,
		Window:         l.config.Window,
		BlockDuration:  l.config.BlockDuration,
		Retention:      l.config.Retention,
		Store:          l.store.Name(),
		Degraded:       noop,
		EventsEnabled:  l.config.Events.Enabled,
		MetricsEnabled: l.config.Metrics.Enabled,
		TrackedKeys:    tracked,
	}
}
