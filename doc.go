// Package attemptgate rate-limits attempts against named keys using a
// sliding window with block escalation: once a key accumulates
// MaxAttempts inside the window it is blocked for BlockDuration, and a
// window that lapses below the threshold restarts from scratch. A key
// left idle for the full block duration is forgiven outright on its
// next check, whether or not it was blocked.
//
// State persists through a storage adapter chain so limits survive
// restarts. [Open] probes a durable file store, then a temp-directory
// store, then a no-op fallback, and binds the [Limiter] to the first
// healthy tier; [New] accepts any store directly, including the Redis
// adapter. Records carry a flat JSON shape with attempts,
// firstAttempt, and lastAttempt fields, so tiers stay interchangeable
// and entries written by one backend read back from another.
//
// # Failure posture
//
// Construction fails fast on bad configuration; everything after that
// degrades instead of erroring. Limiter reads and writes return plain
// values: a failing backend is logged, the write-through cache keeps
// decisions consistent for this process, and even a fully dead chain
// still limits within the current process through that cache. Corrupt
// records are deleted on read and treated as absent.
//
// # Concurrency
//
// All Limiter methods are safe for concurrent use. [Limiter.Watch]
// runs a countdown goroutine per watched key; countdown polls are
// answered from the cache, so driving a ticker or keystroke handler
// through IsRateLimited is safe at high frequency.
package attemptgate
