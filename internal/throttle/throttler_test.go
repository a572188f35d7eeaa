package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
)

func testThrottler(t *testing.T) (*Throttler, *kvstore.MemoryStore) {
	t.Helper()

	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Stop)

	th := New(Config{Store: store})
	th.sleepFn = func(ctx context.Context, d time.Duration) error { return nil }
	return th, store
}

// fix pins the throttler clock at a given epoch second.
func fix(th *Throttler, epoch int64) {
	th.now = func() time.Time { return time.Unix(epoch, 0) }
}

func TestRestoreCreditsElapsedTime(t *testing.T) {
	th, _ := testThrottler(t)

	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 20, LastRequest: 1000}

	// 27 seconds at a 5 s restore rate frees 27/5 = 5 slots.
	fix(th, 1027)
	th.Restore("ListMatchingProducts")
	require.Equal(t, 15, th.usage["ListMatchingProducts"].QuotaLevel)
}

func TestRestoreIsIdempotentAtFixedClock(t *testing.T) {
	th, _ := testThrottler(t)

	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 20, LastRequest: 1000}
	fix(th, 1003)

	th.Restore("ListMatchingProducts")
	level := th.usage["ListMatchingProducts"].QuotaLevel
	th.Restore("ListMatchingProducts")
	require.Equal(t, level, th.usage["ListMatchingProducts"].QuotaLevel)
}

func TestRestoreNeverGoesNegative(t *testing.T) {
	th, _ := testThrottler(t)

	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 2, LastRequest: 1000}
	fix(th, 1000+3600)

	th.Restore("ListMatchingProducts")
	require.Equal(t, 0, th.usage["ListMatchingProducts"].QuotaLevel)
}

func TestRestoreMissingUsageIsNoop(t *testing.T) {
	th, _ := testThrottler(t)

	th.Restore("ListMatchingProducts")
	require.NotContains(t, th.usage, "ListMatchingProducts")
}

func TestWaitTimeUnderQuota(t *testing.T) {
	th, _ := testThrottler(t)

	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 5, LastRequest: 1000}
	fix(th, 1000)
	require.Equal(t, time.Duration(0), th.WaitTime("ListMatchingProducts"))
}

func TestWaitTimeAtQuota(t *testing.T) {
	th, _ := testThrottler(t)

	// At the ceiling with one second elapsed and a 5 s restore rate, the
	// next slot opens in 4 seconds.
	th.limits["ListMatchingProducts"] = Limits{QuotaMax: 20, RestoreRate: 5 * time.Second}
	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 20, LastRequest: 1000}
	fix(th, 1001)

	require.Equal(t, 4*time.Second, th.WaitTime("ListMatchingProducts"))
}

func TestWaitTimeOverQuota(t *testing.T) {
	th, _ := testThrottler(t)

	th.limits["ListMatchingProducts"] = Limits{QuotaMax: 20, RestoreRate: 5 * time.Second}
	th.usage["ListMatchingProducts"] = &Usage{QuotaLevel: 25, LastRequest: 1000}
	fix(th, 1000)

	require.Equal(t, 30*time.Second, th.WaitTime("ListMatchingProducts"))
}

func TestUnknownActionPassesThrough(t *testing.T) {
	th, _ := testThrottler(t)

	require.Equal(t, time.Duration(0), th.WaitTime("Unlimited"))

	th.Admit("Unlimited")
	require.NotContains(t, th.usage, "Unlimited")
}

func TestAdmitStartsAtOne(t *testing.T) {
	th, _ := testThrottler(t)

	fix(th, 2000)
	th.Admit("GetServiceStatus")

	usage := th.usage["GetServiceStatus"]
	require.NotNil(t, usage)
	require.Equal(t, 1, usage.QuotaLevel)
	require.Equal(t, float64(2000), usage.LastRequest)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	th, store := testThrottler(t)
	ctx := context.Background()

	fix(th, 3000)
	require.NoError(t, th.Acquire(ctx, "products.GetServiceStatus"))

	// In-flight counter is up while the call runs.
	raw, err := store.Get(ctx, "products.GetServiceStatus_pending")
	require.NoError(t, err)
	require.Equal(t, "1", string(raw))

	th.Release(ctx, "products.GetServiceStatus")

	// Usage persisted as strict JSON.
	raw, err = store.Get(ctx, "products.GetServiceStatus_usage")
	require.NoError(t, err)
	require.JSONEq(t, `{"quota_level": 1, "last_request": 3000}`, string(raw))

	// Counter back to zero.
	raw, err = store.Get(ctx, "products.GetServiceStatus_pending")
	require.NoError(t, err)
	require.Equal(t, "0", string(raw))
}

func TestLoadUsageAcceptsLegacyQuoting(t *testing.T) {
	th, store := testThrottler(t)
	ctx := context.Background()

	// A dict repr with single quotes, as older workers wrote it.
	require.NoError(t, store.Set(ctx, "products.GetServiceStatus_usage",
		[]byte("{'quota_level': 2, 'last_request': 1500}"), 0))

	th.LoadUsage(ctx, "products.GetServiceStatus")

	usage := th.usage["GetServiceStatus"]
	require.NotNil(t, usage)
	require.Equal(t, 2, usage.QuotaLevel)
	require.Equal(t, float64(1500), usage.LastRequest)
}

func TestLoadUsageFoldsPendingCounter(t *testing.T) {
	th, store := testThrottler(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "products.ListMatchingProducts_usage",
		[]byte(`{"quota_level": 3, "last_request": 1000}`), 0))
	_, err := store.IncrBy(ctx, "products.ListMatchingProducts_pending", 2)
	require.NoError(t, err)

	fix(th, 5000)
	th.LoadUsage(ctx, "products.ListMatchingProducts")

	usage := th.usage["ListMatchingProducts"]
	require.NotNil(t, usage)
	require.Equal(t, 5, usage.QuotaLevel)
	require.Equal(t, float64(5000), usage.LastRequest)
}

func TestAcquireCancelledDuringWait(t *testing.T) {
	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Stop)

	th := New(Config{Store: store})
	th.sleepFn = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	fix(th, 1000)
	th.usage["GetServiceStatus"] = &Usage{QuotaLevel: 10, LastRequest: 1000}

	ctx := context.Background()
	err := th.Acquire(ctx, "products.GetServiceStatus")
	require.ErrorIs(t, err, context.Canceled)

	// The in-flight mark went up before the sleep; release must still undo it.
	th.Release(ctx, "products.GetServiceStatus")
	raw, err := store.Get(ctx, "products.GetServiceStatus_pending")
	require.NoError(t, err)
	require.Equal(t, "0", string(raw))
}

func TestRateConformance(t *testing.T) {
	th, _ := testThrottler(t)

	// Drive acquires in a tight loop over N*restore_rate seconds of
	// simulated time; admissions stay within quota_max + N + 1.
	const n = 4
	rate := th.limits["ListMatchingProducts"].RestoreRate
	quotaMax := th.limits["ListMatchingProducts"].QuotaMax

	epoch := int64(10000)
	deadline := epoch + int64(n*rate.Seconds())
	admissions := 0

	for now := epoch; now < deadline; {
		fix(th, now)
		th.Restore("ListMatchingProducts")
		wait := th.WaitTime("ListMatchingProducts")
		if wait > 0 {
			now += int64(wait.Seconds())
			if now >= deadline {
				break
			}
			fix(th, now)
			th.Restore("ListMatchingProducts")
		}
		th.Admit("ListMatchingProducts")
		admissions++
	}

	require.LessOrEqual(t, admissions, quotaMax+n+1)
}

func TestClampPriority(t *testing.T) {
	require.Equal(t, 0, ClampPriority(nil))
	require.Equal(t, 0, ClampPriority("garbage"))
	require.Equal(t, 0, ClampPriority(-3))
	require.Equal(t, 1, ClampPriority(1))
	require.Equal(t, 2, ClampPriority("2"))
	require.Equal(t, 2, ClampPriority(7))
	require.Equal(t, 1, ClampPriority(float64(1)))
}

func TestApplyPriority(t *testing.T) {
	limits := DefaultLimits()

	ApplyPriority(limits, 0)
	require.Equal(t, 1, limits["ListMatchingProducts"].QuotaMax)
	require.Equal(t, 1, limits["GetServiceStatus"].QuotaMax)

	limits = DefaultLimits()
	ApplyPriority(limits, 2)
	require.Equal(t, 20, limits["ListMatchingProducts"].QuotaMax)
	require.Equal(t, 20, limits["GetMyFeesEstimate"].QuotaMax)
	require.Equal(t, 2, limits["GetServiceStatus"].QuotaMax)
}

func TestDefaultLimitsIsACopy(t *testing.T) {
	a := DefaultLimits()
	b := DefaultLimits()

	l := a["ListMatchingProducts"]
	l.QuotaMax = 99
	a["ListMatchingProducts"] = l

	require.Equal(t, 20, b["ListMatchingProducts"].QuotaMax)
}
