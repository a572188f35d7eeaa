// Package mws builds and signs requests for the Amazon Marketplace Web
// Services and Product Advertising APIs using AWS Signature Version 2.
package mws

import (
	"fmt"
	"sort"
	"strings"
)

// MWSDomains maps two-letter region codes to MWS endpoint hosts.
var MWSDomains = map[string]string{
	"NA": "mws.amazonservices.com",
	"EU": "mws-eu.amazonservices.com",
	"IN": "mws.amazonservices.in",
	"CN": "mws.amazonservices.com.cn",
	"JP": "mws.amazonservices.jp",
}

// PAEndpoints maps two-letter country codes to Product Advertising API hosts.
var PAEndpoints = map[string]string{
	"BR": "webservices.amazon.com.br",
	"CN": "webservices.amazon.cn",
	"CA": "webservices.amazon.ca",
	"DE": "webservices.amazon.de",
	"ES": "webservices.amazon.es",
	"FR": "webservices.amazon.fr",
	"IN": "webservices.amazon.in",
	"IT": "webservices.amazon.it",
	"JP": "webservices.amazon.co.jp",
	"MX": "webservices.amazon.com.mx",
	"UK": "webservices.amazon.co.uk",
	"US": "webservices.amazon.com",
}

// MarketplaceIDs maps two-letter country codes to Amazon marketplace ids.
var MarketplaceIDs = map[string]string{
	"CA": "A2EUQ1WTGCTBG2",
	"MX": "A1AM78C64UM0Y8",
	"US": "ATVPDKIKX0DER",
	"DE": "A1PA6795UKMFR9",
	"ES": "A1RKKUPIHCS9HS",
	"FR": "A13V1IB3VIYZZH",
	"IT": "APJ6JRA9NG5V4",
	"UK": "A1F83G8C2ARO7P",
	"IN": "A21TJRUUN4KGV",
	"JP": "A21TJRUUN4KGV",
	"CN": "AAHKV2X7AFYLW",
}

// ResolveDomain maps a two-letter region code to its MWS host.
// Anything longer than two characters is treated as a literal hostname.
// Unknown two-letter codes are an error.
func ResolveDomain(domain string) (string, error) {
	if len(domain) != 2 {
		return domain, nil
	}
	host, ok := MWSDomains[domain]
	if !ok {
		return "", fmt.Errorf("invalid region %q, recognized values are %s", domain, sortedKeys(MWSDomains))
	}
	return host, nil
}

// ResolveMarketplace maps a two-letter country code to its marketplace id.
// Anything longer than two characters is treated as a literal id.
// Unknown two-letter codes are an error.
func ResolveMarketplace(market string) (string, error) {
	if len(market) != 2 {
		return market, nil
	}
	id, ok := MarketplaceIDs[market]
	if !ok {
		return "", fmt.Errorf("invalid market designation %q, recognized values are %s", market, sortedKeys(MarketplaceIDs))
	}
	return id, nil
}

// MarketplaceOrDefault is the permissive variant used when assembling request
// parameters: unknown two-letter codes fall back to the US marketplace.
func MarketplaceOrDefault(market string) string {
	if len(market) > 2 {
		return market
	}
	if id, ok := MarketplaceIDs[market]; ok {
		return id
	}
	return MarketplaceIDs["US"]
}

func sortedKeys(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
