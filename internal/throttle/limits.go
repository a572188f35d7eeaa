// Package throttle enforces Amazon's per-action token-bucket quotas across
// worker processes. Bucket state is shared through the kvstore so N workers
// cooperate under one true quota.
package throttle

import (
	"strconv"
	"time"
)

// Limits holds the leaky-bucket parameters for one action.
type Limits struct {
	// QuotaMax is the bucket ceiling: at most this many tokens outstanding.
	QuotaMax int

	// RestoreRate is the time to restore one token.
	RestoreRate time.Duration

	// HourlyMax is Amazon's documented hourly cap. Informational only.
	HourlyMax int
}

// defaultLimits is Amazon's published Products-section request quotas.
var defaultLimits = map[string]Limits{
	"ListMatchingProducts":          {QuotaMax: 20, RestoreRate: 5 * time.Second, HourlyMax: 720},
	"GetMatchingProduct":            {QuotaMax: 20, RestoreRate: 500 * time.Millisecond, HourlyMax: 7200},
	"GetMatchingProductForId":       {QuotaMax: 20, RestoreRate: 200 * time.Millisecond, HourlyMax: 18000},
	"GetCompetitivePricingForSKU":   {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetCompetitivePricingForASIN":  {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetLowestOfferListingsForSKU":  {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetLowestOfferListingsForASIN": {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetLowestPricedOffersForSKU":   {QuotaMax: 10, RestoreRate: 200 * time.Millisecond, HourlyMax: 200},
	"GetLowestPricedOffersForASIN":  {QuotaMax: 10, RestoreRate: 200 * time.Millisecond, HourlyMax: 36000},
	"GetMyFeesEstimate":             {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetMyPriceForSKU":              {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetMyPriceForASIN":             {QuotaMax: 20, RestoreRate: 100 * time.Millisecond, HourlyMax: 36000},
	"GetProductCategoriesForSKU":    {QuotaMax: 20, RestoreRate: 5 * time.Second, HourlyMax: 720},
	"GetProductCategoriesForASIN":   {QuotaMax: 20, RestoreRate: 5 * time.Second, HourlyMax: 720},
	"GetServiceStatus":              {QuotaMax: 2, RestoreRate: 300 * time.Second},
}

// DefaultLimits returns a fresh copy of the default limits table. Each
// gateway instance gets its own copy so per-call priority overrides never
// race across gateways.
func DefaultLimits() map[string]Limits {
	limits := make(map[string]Limits, len(defaultLimits))
	for action, l := range defaultLimits {
		limits[action] = l
	}
	return limits
}

// priorityQuotas overrides QuotaMax per action for each priority level.
// Higher priorities spend the shared quota more aggressively.
var priorityQuotas = map[int]map[string]int{
	0: {
		"GetServiceStatus":     1,
		"ListMatchingProducts": 1,
		"GetMyFeesEstimate":    1,
	},
	1: {
		"GetServiceStatus":     2,
		"ListMatchingProducts": 5,
		"GetMyFeesEstimate":    5,
	},
	2: {
		"GetServiceStatus":     2,
		"ListMatchingProducts": 20,
		"GetMyFeesEstimate":    20,
	},
}

// maxPriority is the ceiling of the priority table.
const maxPriority = 2

// ClampPriority coerces an arbitrary priority value into [0, maxPriority].
// Strings are parsed; non-integer values fall back to 0.
func ClampPriority(v any) int {
	var p int
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		p = t
	case int64:
		p = int(t)
	case float64:
		p = int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		p = n
	default:
		return 0
	}

	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}

// ApplyPriority copies the per-priority quota ceilings into the given limits
// table. The table is mutated in place; callers own a per-instance copy.
func ApplyPriority(limits map[string]Limits, priority int) {
	for action, quota := range priorityQuotas[ClampPriority(priority)] {
		l, ok := limits[action]
		if !ok {
			continue
		}
		l.QuotaMax = quota
		limits[action] = l
	}
}
