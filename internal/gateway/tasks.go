package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/broccoli-gateway/internal/amzxml"
	"github.com/prn-tf/broccoli-gateway/internal/mws"
)

// task binds one fully qualified action to its cache TTL, throttle tuning,
// parameter builder, and response projection. This table replaces the
// source's dynamic attribute dispatch; unknown names are rejected up front.
type task struct {
	section           string
	action            string
	cacheTTL          time.Duration
	restoreRateAdjust time.Duration
	params            func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error)
	project           func(resp *amzxml.Response) (any, error)
}

var taskTable = map[string]task{
	"products.GetServiceStatus": {
		section:  "products",
		action:   "GetServiceStatus",
		cacheTTL: 5 * time.Minute,
		params: func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
		project: projectServiceStatus,
	},

	"products.ListMatchingProducts": {
		section:  "products",
		action:   "ListMatchingProducts",
		cacheTTL: time.Hour,
		params: func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error) {
			call := bindArgs([]string{"query", "marketplace_id", "query_context_id"}, args, kwargs)

			query := stringArg(call, "query")
			if query == "" {
				return nil, fmt.Errorf("ListMatchingProducts: query is required")
			}

			params := map[string]any{
				"Query":         query,
				"MarketplaceId": marketplaceArg(call, signer),
			}
			if qcid := stringArg(call, "query_context_id"); qcid != "" {
				params["QueryContextId"] = qcid
			}
			return params, nil
		},
		project: projectMatchingProducts,
	},

	"products.GetMyFeesEstimate": {
		section:           "products",
		action:            "GetMyFeesEstimate",
		cacheTTL:          30 * time.Minute,
		restoreRateAdjust: 5 * time.Second,
		params: func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error) {
			call := bindArgs([]string{"asin", "price", "marketplace_id"}, args, kwargs)

			asin := stringArg(call, "asin")
			if asin == "" {
				return nil, fmt.Errorf("GetMyFeesEstimate: asin is required")
			}
			price, ok := call["price"]
			if !ok {
				return nil, fmt.Errorf("GetMyFeesEstimate: price is required")
			}

			return map[string]any{
				"FeesEstimateRequestList": []any{
					map[string]any{
						"MarketplaceId":     marketplaceArg(call, signer),
						"IdType":            "ASIN",
						"IdValue":           asin,
						"IsAmazonFulfilled": "true",
						"Identifier":        "request1",
						"PriceToEstimateFees.ListingPrice.CurrencyCode": "USD",
						"PriceToEstimateFees.ListingPrice.Amount":       price,
					},
				},
			}, nil
		},
		project: projectFeesEstimate,
	},

	"products.GetCompetitivePricingForASIN": {
		section:  "products",
		action:   "GetCompetitivePricingForASIN",
		cacheTTL: 15 * time.Minute,
		params: func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error) {
			call := bindArgs([]string{"asins", "marketplace_id"}, args, kwargs)

			asins := listArg(call, "asins")
			if len(asins) == 0 {
				return nil, fmt.Errorf("GetCompetitivePricingForASIN: asins is required")
			}

			return map[string]any{
				"MarketplaceId": marketplaceArg(call, signer),
				"ASINList":      asins,
			}, nil
		},
		project: projectCompetitivePricing,
	},

	"pa.ItemSearch": {
		section:  "pa",
		action:   "ItemSearch",
		cacheTTL: time.Hour,
		params: func(signer *mws.Signer, args []any, kwargs map[string]any) (map[string]any, error) {
			call := bindArgs([]string{"keywords", "search_index"}, args, kwargs)

			keywords := stringArg(call, "keywords")
			if keywords == "" {
				return nil, fmt.Errorf("ItemSearch: keywords is required")
			}

			index := stringArg(call, "search_index")
			if index == "" {
				index = "All"
			}

			return map[string]any{
				"Keywords":    keywords,
				"SearchIndex": index,
			}, nil
		},
		project: projectItemSearch,
	},
}

// Actions lists the fully qualified actions the gateway dispatches.
func Actions() []string {
	names := make([]string, 0, len(taskTable))
	for fqn := range taskTable {
		names = append(names, fqn)
	}
	return names
}

// bindArgs merges positional args into kwargs by parameter name. Explicit
// kwargs win over positionals.
func bindArgs(names []string, args []any, kwargs map[string]any) map[string]any {
	call := make(map[string]any, len(kwargs)+len(args))
	for i, v := range args {
		if i >= len(names) {
			break
		}
		call[names[i]] = v
	}
	for k, v := range kwargs {
		call[k] = v
	}
	return call
}

// stringArg fetches a string-valued argument; non-strings stringify.
func stringArg(call map[string]any, name string) string {
	v, ok := call[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// listArg fetches a list-valued argument; a comma-separated string splits.
func listArg(call map[string]any, name string) []any {
	switch v := call[name].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	default:
		return nil
	}
}

// marketplaceArg resolves the marketplace_id argument: two-letter codes map
// through the marketplace table (unknown codes fall back to US), anything
// longer passes through, and a missing argument uses the signer's default.
func marketplaceArg(call map[string]any, signer *mws.Signer) string {
	id := stringArg(call, "marketplace_id")
	if id == "" {
		return signer.DefaultMarketplace()
	}
	return mws.MarketplaceOrDefault(id)
}
