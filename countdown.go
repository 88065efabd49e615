package attemptgate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCountdownInterval is the poll cadence Watch falls back to.
const DefaultCountdownInterval = time.Second

// CountdownState is one observation of a key's block status.
type CountdownState struct {
	Blocked   bool
	Attempts  int
	Remaining time.Duration
	// Display is Remaining rendered by FormatRemaining.
	Display string
}

// Countdown polls one key on a fixed interval and publishes the
// resulting states until the key unblocks, Stop is called, or the
// watch context ends. Polling is cheap: a blocked key is answered from
// the limiter cache, so a one-second cadence never hammers the backend.
type Countdown struct {
	limiter  *Limiter
	key      string
	interval time.Duration

	states chan CountdownState
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Watch starts a countdown for key. An interval <= 0 falls back to
// DefaultCountdownInterval. The first state is published immediately,
// then one per tick; the channel closes once the key is no longer
// blocked. Always call Stop when abandoning a countdown early, or its
// ticker leaks until the block expires.
func (l *Limiter) Watch(ctx context.Context, key string, interval time.Duration) *Countdown {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = DefaultCountdownInterval
	}

	c := &Countdown{
		limiter:  l,
		key:      key,
		interval: interval,
		states:   make(chan CountdownState, 1),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run(ctx)

	return c
}

// States returns the channel of countdown updates. It closes when the
// countdown finishes for any reason.
func (c *Countdown) States() <-chan CountdownState {
	return c.states
}

// Stop ends the countdown and releases its ticker. Safe to call more
// than once and concurrently with channel reads; it returns after the
// polling goroutine has exited.
func (c *Countdown) Stop() {
	c.once.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Countdown) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.states)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		state := c.observe(ctx)
		select {
		case c.states <- state:
		default:
			// A slow consumer misses this update; the next tick
			// carries fresher state anyway.
		}
		if !state.Blocked {
			return
		}

		select {
		case <-ticker.C:
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Countdown) observe(ctx context.Context) CountdownState {
	// IsRateLimited first: it applies expiry, so the remaining time and
	// attempt count read after it reflect the settled entry.
	blocked := c.limiter.IsRateLimited(ctx, c.key)
	remaining := c.limiter.TimeUntilUnblocked(ctx, c.key)
	attempts := c.limiter.Attempts(ctx, c.key)

	return CountdownState{
		Blocked:   blocked,
		Attempts:  attempts,
		Remaining: remaining,
		Display:   FormatRemaining(remaining),
	}
}

// FormatRemaining renders a duration as a short countdown string such
// as "4m 59s". Partial seconds round up, so the display reads "0s"
// only when nothing remains.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	secs := int64((d + time.Second - 1) / time.Second)
	mins := secs / 60
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case mins < 60:
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	default:
		return fmt.Sprintf("%dh %dm %ds", mins/60, mins%60, secs%60)
	}
}
