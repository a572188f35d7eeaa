package throttle

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
)

// DefaultPendingTTL bounds the effect of crashed workers: an in-flight
// counter that is never decremented disappears after this long.
const DefaultPendingTTL = 200 * time.Second

// Usage is the shared bucket state for one action. LastRequest is a
// wall-clock epoch in fractional seconds, matching the wire format every
// worker reads and writes.
type Usage struct {
	QuotaLevel  int     `json:"quota_level"`
	LastRequest float64 `json:"last_request"`
}

// Config configures a Throttler.
type Config struct {
	// Store is the shared kvstore. Required.
	Store kvstore.Store

	// Limits is the per-action limits table. The throttler takes ownership.
	Limits map[string]Limits

	// PendingTTL overrides DefaultPendingTTL when positive.
	PendingTTL time.Duration

	Logger zerolog.Logger
}

// Throttler enforces a per-action leaky bucket. One instance serves one call:
// the limits table may carry per-call priority overrides, so instances are
// never shared across calls.
type Throttler struct {
	store      kvstore.Store
	limits     map[string]Limits
	usage      map[string]*Usage
	pendingTTL time.Duration
	logger     zerolog.Logger

	// Replaceable in tests.
	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New creates a Throttler.
func New(cfg Config) *Throttler {
	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}
	pendingTTL := cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}

	return &Throttler{
		store:      cfg.Store,
		limits:     limits,
		usage:      make(map[string]*Usage),
		pendingTTL: pendingTTL,
		logger:     cfg.Logger.With().Str("component", "throttler").Logger(),
		now:        time.Now,
		sleepFn:    sleepContext,
	}
}

// Limits exposes the instance's limits table (for priority overrides).
func (t *Throttler) Limits() map[string]Limits {
	return t.limits
}

// Restore credits tokens earned since the last request: quota_level drops by
// floor(elapsed / restore_rate), clamped at zero. Missing limits or usage is
// a no-op.
func (t *Throttler) Restore(action string) {
	limits, ok := t.limits[action]
	if !ok {
		return
	}
	usage, ok := t.usage[action]
	if !ok {
		return
	}

	elapsed := t.epoch() - usage.LastRequest
	restored := int(math.Floor(elapsed / limits.RestoreRate.Seconds()))

	usage.QuotaLevel -= restored
	if usage.QuotaLevel < 0 {
		usage.QuotaLevel = 0
	}
}

// WaitTime returns how long the caller must wait before the bucket admits
// one more token. Zero when under quota or when the action is unknown.
func (t *Throttler) WaitTime(action string) time.Duration {
	limits, ok := t.limits[action]
	if !ok {
		return 0
	}
	usage, ok := t.usage[action]
	if !ok {
		return 0
	}

	if usage.QuotaLevel < limits.QuotaMax {
		return 0
	}

	elapsed := t.epoch() - usage.LastRequest
	wait := float64(usage.QuotaLevel+1-limits.QuotaMax)*limits.RestoreRate.Seconds() - elapsed
	if wait <= 0 {
		return 0
	}
	return time.Duration(wait * float64(time.Second))
}

// Admit records an admission: quota_level rises by one and last_request
// moves to now. Unknown actions no-op and never create usage entries.
func (t *Throttler) Admit(action string) {
	if _, ok := t.limits[action]; !ok {
		return
	}

	usage, ok := t.usage[action]
	if !ok {
		usage = &Usage{}
		t.usage[action] = usage
	}
	usage.QuotaLevel++
	usage.LastRequest = t.epoch()
}

// Acquire blocks until the action's bucket admits one more request: load the
// shared usage, mark the request in-flight, restore, sleep out the computed
// wait, restore again to credit tokens earned while sleeping, then admit.
// A caller whose Acquire returns nil must call Release on every exit path.
func (t *Throttler) Acquire(ctx context.Context, fqn string) error {
	action := actionOf(fqn)

	t.LoadUsage(ctx, fqn)

	// Mark in-flight before sleeping so a crash mid-wait still self-heals
	// through the pending TTL.
	if _, err := t.store.IncrBy(ctx, kvstore.PendingKey(fqn), 1); err != nil {
		t.logger.Warn().Err(err).Str("action", fqn).Msg("incrementing pending counter")
	} else if err := t.store.Expire(ctx, kvstore.PendingKey(fqn), t.pendingTTL); err != nil {
		t.logger.Warn().Err(err).Str("action", fqn).Msg("refreshing pending TTL")
	}

	t.Restore(action)

	if wait := t.WaitTime(action); wait > 0 {
		t.logger.Debug().Str("action", fqn).Dur("wait", wait).Msg("throttling")
		if err := t.sleepFn(ctx, wait); err != nil {
			return err
		}
	}

	// Second restore credits tokens restored during the sleep; without it a
	// long sleep would double-charge the bucket.
	t.Restore(action)
	t.Admit(action)

	return nil
}

// Release persists the action's usage and decrements the in-flight counter.
func (t *Throttler) Release(ctx context.Context, fqn string) {
	t.SaveUsage(ctx, fqn)

	n, err := t.store.IncrBy(ctx, kvstore.PendingKey(fqn), -1)
	if err != nil {
		t.logger.Warn().Err(err).Str("action", fqn).Msg("decrementing pending counter")
		return
	}
	if n < 0 {
		// The counter expired between our increment and this decrement.
		if err := t.store.Delete(ctx, kvstore.PendingKey(fqn)); err != nil {
			t.logger.Warn().Err(err).Str("action", fqn).Msg("clearing pending counter")
		}
	}
}

// LoadUsage pulls the shared usage for fqn into local state and folds the
// in-flight counter into the bucket depth, so concurrent workers each see
// the true occupancy. Store failures degrade to an empty bucket.
func (t *Throttler) LoadUsage(ctx context.Context, fqn string) {
	action := actionOf(fqn)

	raw, err := t.store.Get(ctx, kvstore.UsageKey(fqn))
	switch {
	case err == nil:
		var usage Usage
		// Legacy writers stored a dict repr with single quotes.
		normalized := strings.ReplaceAll(string(raw), "'", "\"")
		if err := json.Unmarshal([]byte(normalized), &usage); err != nil {
			t.logger.Warn().Err(err).Str("action", fqn).Msg("decoding stored usage")
		} else {
			t.usage[action] = &usage
		}
	case err == kvstore.ErrNotFound:
	default:
		t.logger.Warn().Err(err).Str("action", fqn).Msg("loading usage")
	}

	pending := t.pendingCount(ctx, fqn)
	if pending > 0 {
		usage, ok := t.usage[action]
		if !ok {
			usage = &Usage{}
			t.usage[action] = usage
		}
		usage.QuotaLevel += pending
		usage.LastRequest = t.epoch()
	}
}

// SaveUsage writes the local usage for fqn back to the shared store as
// strict JSON.
func (t *Throttler) SaveUsage(ctx context.Context, fqn string) {
	usage, ok := t.usage[actionOf(fqn)]
	if !ok {
		return
	}

	data, err := json.Marshal(usage)
	if err != nil {
		t.logger.Warn().Err(err).Str("action", fqn).Msg("encoding usage")
		return
	}
	if err := t.store.Set(ctx, kvstore.UsageKey(fqn), data, 0); err != nil {
		t.logger.Warn().Err(err).Str("action", fqn).Msg("saving usage")
	}
}

// pendingCount reads the in-flight counter; failures count as zero.
func (t *Throttler) pendingCount(ctx context.Context, fqn string) int {
	raw, err := t.store.Get(ctx, kvstore.PendingKey(fqn))
	if err != nil {
		if err != kvstore.ErrNotFound {
			t.logger.Warn().Err(err).Str("action", fqn).Msg("loading pending counter")
		}
		return 0
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// epoch returns the current wall clock in fractional seconds.
func (t *Throttler) epoch() float64 {
	return float64(t.now().UnixNano()) / float64(time.Second)
}

// actionOf extracts the bare action from a fully qualified name.
func actionOf(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
