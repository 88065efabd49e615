package internaldefs

import (
	"github.com/attemptgate/attemptgate"
)

// CounterDef ties a limiter counter to its stable exported name.
type CounterDef struct {
	ID   attemptgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: attemptgate.MetricCheckAllowed, Name: "attemptgate_check_allowed_total", Help: "Limit checks that allowed the caller."},
	{ID: attemptgate.MetricCheckBlocked, Name: "attemptgate_check_blocked_total", Help: "Limit checks answered with an active block."},
	{ID: attemptgate.MetricAttemptRecorded, Name: "attemptgate_attempt_recorded_total", Help: "Recorded attempts."},
	{ID: attemptgate.MetricBlockTriggered, Name: "attemptgate_block_triggered_total", Help: "Keys escalated to a block."},
	{ID: attemptgate.MetricBlockExpired, Name: "attemptgate_block_expired_total", Help: "Blocks released after running their full duration."},
	{ID: attemptgate.MetricWindowReset, Name: "attemptgate_window_reset_total", Help: "Windows restarted after lapsing below the threshold."},
	{ID: attemptgate.MetricCacheHit, Name: "attemptgate_cache_hit_total", Help: "Entry reads served from the in-process cache."},
	{ID: attemptgate.MetricCacheMiss, Name: "attemptgate_cache_miss_total", Help: "Entry reads that consulted the backing store."},
	{ID: attemptgate.MetricStoreWriteError, Name: "attemptgate_store_write_error_total", Help: "Store writes that failed and were absorbed."},
	{ID: attemptgate.MetricCleared, Name: "attemptgate_cleared_total", Help: "Clear operations, single-key and namespace-wide."},
}
