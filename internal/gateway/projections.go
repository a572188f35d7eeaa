package gateway

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/prn-tf/broccoli-gateway/internal/amzxml"
)

// projectServiceStatus returns the text at .//Status (e.g. "GREEN").
func projectServiceStatus(resp *amzxml.Response) (any, error) {
	status := resp.Value(".//Status", nil, "")
	if status == "" {
		return nil, nil
	}
	return status, nil
}

// projectMatchingProducts flattens each Product descendant into a record.
// Keys whose value is absent are omitted.
func projectMatchingProducts(resp *amzxml.Response) (any, error) {
	products, err := xmlquery.QueryAll(resp.Tree, "//Product")
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(products))
	for _, tag := range products {
		record := map[string]any{}

		setIfPresent(record, "sku", resp.Value("./Identifiers/MarketplaceASIN/ASIN", tag, ""))
		setIfPresent(record, "brand", firstValue(resp, tag, ".//Brand", ".//Manufacturer", ".//Label", ".//Publisher", ".//Studio"))
		setIfPresent(record, "model", firstValue(resp, tag, ".//Model", ".//PartNumber"))

		if price, ok := resp.Float(".//ListPrice/Amount", tag, 0); ok {
			record["price"] = price
		}
		if n, ok := resp.Int(".//NumberOfItems", tag, 0); ok {
			record["NumberOfItems"] = n
		}
		if n, ok := resp.Int(".//PackageQuantity", tag, 0); ok {
			record["PackageQuantity"] = n
		}

		setIfPresent(record, "image_url", resp.Value(".//SmallImage/URL", tag, ""))
		setIfPresent(record, "title", resp.Value(".//Title", tag, ""))

		// The first sales rank in a named category; numeric category ids are
		// browse nodes, not categories.
		ranks, _ := xmlquery.QueryAll(tag, ".//SalesRank")
		for _, rankTag := range ranks {
			category := resp.Value("./ProductCategoryId", rankTag, "")
			if category == "" || isDigits(category) {
				continue
			}
			record["category"] = category
			if rank, ok := resp.Int("./Rank", rankTag, 0); ok {
				record["rank"] = rank
			}
			break
		}

		features, _ := xmlquery.QueryAll(tag, ".//Feature")
		lines := make([]string, 0, len(features))
		for _, f := range features {
			lines = append(lines, f.InnerText())
		}
		setIfPresent(record, "description", strings.Join(lines, "\n"))

		results = append(results, record)
	}

	return results, nil
}

// projectFeesEstimate returns .//TotalFeesEstimate/Amount as a float, or
// null when Amazon returned no estimate.
func projectFeesEstimate(resp *amzxml.Response) (any, error) {
	if amount, ok := resp.Float(".//TotalFeesEstimate/Amount", nil, 0); ok {
		return amount, nil
	}
	return nil, nil
}

// projectCompetitivePricing builds a per-ASIN map from each
// GetCompetitivePricingForASINResult element.
func projectCompetitivePricing(resp *amzxml.Response) (any, error) {
	nodes, err := xmlquery.QueryAll(resp.Tree, "//GetCompetitivePricingForASINResult")
	if err != nil {
		return nil, err
	}

	results := map[string]any{}
	for _, node := range nodes {
		asin := node.SelectAttr("ASIN")

		if node.SelectAttr("status") != "Success" {
			code := resp.Value("./Error/Code", node, "")
			message := resp.Value("./Error/Message", node, "")
			results[asin] = map[string]any{"error": code + ": " + message}
			continue
		}

		record := map[string]any{}
		if cp, _ := xmlquery.Query(node, `.//CompetitivePrice[@condition="New"]`); cp != nil {
			if v, ok := resp.Float(".//ListingPrice/Amount", cp, 0); ok {
				record["listing_price"] = v
			}
			if v, ok := resp.Float(".//Shipping/Amount", cp, 0); ok {
				record["shipping"] = v
			}
			if v, ok := resp.Float(".//LandedPrice/Amount", cp, 0); ok {
				record["landed_price"] = v
			}
		}

		offers := 0
		if olc, _ := xmlquery.Query(node, `.//OfferListingCount[@condition="New"]`); olc != nil {
			if n, ok := resp.Int(".", olc, 0); ok {
				offers = n
			}
		}
		record["offers"] = offers

		results[asin] = record
	}

	return results, nil
}

// projectItemSearch flattens a Product Advertising ItemSearch response into
// one record per Item.
func projectItemSearch(resp *amzxml.Response) (any, error) {
	items, err := xmlquery.QueryAll(resp.Tree, "//Items/Item")
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(items))
	for _, item := range items {
		record := map[string]any{}
		setIfPresent(record, "sku", resp.Value("./ASIN", item, ""))
		setIfPresent(record, "title", resp.Value("./ItemAttributes/Title", item, ""))
		setIfPresent(record, "brand", resp.Value("./ItemAttributes/Brand", item, ""))
		setIfPresent(record, "url", resp.Value("./DetailPageURL", item, ""))
		results = append(results, record)
	}

	return results, nil
}

func setIfPresent(record map[string]any, key, value string) {
	if value != "" {
		record[key] = value
	}
}

// firstValue returns the first non-empty text among the given paths.
func firstValue(resp *amzxml.Response, root *xmlquery.Node, paths ...string) string {
	for _, path := range paths {
		if v := resp.Value(path, root, ""); v != "" {
			return v
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
