package store

import "context"

// Noop is the terminal fallback when no real backend survives probing.
// It accepts every write and reports every key absent, leaving the
// limiter's in-process cache as the only state that survives.
type Noop struct{}

var _ Store = Noop{}

// Name identifies this backend in probe logs and degradation events.
func (Noop) Name() string { return "noop" }

func (Noop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

func (Noop) Set(context.Context, string, Entry) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) Clear(context.Context) error { return nil }

func (Noop) Keys(context.Context) ([]string, error) { return nil, nil }

func (Noop) Sweep(context.Context) (int, error) { return 0, nil }
