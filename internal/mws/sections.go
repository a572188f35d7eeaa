package mws

import "strings"

// SectionSpec describes one section of the Amazon API: the request path, the
// API version, and the names of the account and action query parameters.
type SectionSpec struct {
	// Name is the section identifier used in fully qualified action names.
	Name string

	// URIPath is the request path, e.g. "/Products/2011-10-01".
	URIPath string

	// Version is the API version string sent as the Version parameter.
	Version string

	// AccountParam is "SellerId" for MWS sections, "AssociateTag" for PA.
	AccountParam string

	// ActionParam is "Action" for MWS sections, "Operation" for PA.
	ActionParam string

	// Operations lists the supported actions for the section.
	Operations []string
}

// ProductAdvertising reports whether the section targets the Product
// Advertising API rather than MWS. PA calls use GET and carry a Service
// parameter; MWS calls use POST.
func (s SectionSpec) ProductAdvertising() bool {
	return s.ActionParam == "Operation"
}

// Supports reports whether the section declares the given operation.
func (s SectionSpec) Supports(operation string) bool {
	for _, op := range s.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// sections is the static table of recognized API sections, keyed by the
// lowercase name used in fully qualified action names.
var sections = map[string]SectionSpec{
	"feeds": {
		Name:         "feeds",
		URIPath:      "/",
		Version:      "2009-01-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"SubmitFeed", "GetFeedSubmissionList", "GetFeedSubmissionResult"},
	},
	"finances": {
		Name:         "finances",
		URIPath:      "/Finances/2015-05-01",
		Version:      "2015-05-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListFinancialEventGroups", "ListFinancialEvents", "GetServiceStatus"},
	},
	"products": {
		Name:         "products",
		URIPath:      "/Products/2011-10-01",
		Version:      "2011-10-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations: []string{
			"ListMatchingProducts",
			"GetMatchingProduct",
			"GetMatchingProductForId",
			"GetCompetitivePricingForSKU",
			"GetCompetitivePricingForASIN",
			"GetLowestOfferListingsForSKU",
			"GetLowestOfferListingsForASIN",
			"GetLowestPricedOffersForSKU",
			"GetLowestPricedOffersForASIN",
			"GetMyFeesEstimate",
			"GetMyPriceForSKU",
			"GetMyPriceForASIN",
			"GetProductCategoriesForSKU",
			"GetProductCategoriesForASIN",
			"GetServiceStatus",
		},
	},
	"fulfillmentinboundshipment": {
		Name:         "fulfillmentinboundshipment",
		URIPath:      "/FulfillmentInboundShipment/2010-10-01",
		Version:      "2010-10-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListInboundShipments", "ListInboundShipmentItems", "GetServiceStatus"},
	},
	"fulfillmentinventory": {
		Name:         "fulfillmentinventory",
		URIPath:      "/FulfillmentInventory/2010-10-01",
		Version:      "2010-10-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListInventorySupply", "GetServiceStatus"},
	},
	"fulfillmentoutboundshipment": {
		Name:         "fulfillmentoutboundshipment",
		URIPath:      "/FulfillmentOutboundShipment/2010-10-01",
		Version:      "2010-10-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListAllFulfillmentOrders", "GetFulfillmentOrder", "GetServiceStatus"},
	},
	"merchantfulfillment": {
		Name:         "merchantfulfillment",
		URIPath:      "/MerchantFulfillment/2015-06-01",
		Version:      "2015-06-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"GetEligibleShippingServices", "CreateShipment", "GetServiceStatus"},
	},
	"orders": {
		Name:         "orders",
		URIPath:      "/Orders/2013-09-01",
		Version:      "2013-09-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListOrders", "ListOrderItems", "GetOrder", "GetServiceStatus"},
	},
	"recommendations": {
		Name:         "recommendations",
		URIPath:      "/Recommendations/2013-04-01",
		Version:      "2013-04-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListRecommendations", "GetServiceStatus"},
	},
	"reports": {
		Name:         "reports",
		URIPath:      "/",
		Version:      "2009-01-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"RequestReport", "GetReport", "GetReportList"},
	},
	"sellers": {
		Name:         "sellers",
		URIPath:      "/Sellers",
		Version:      "2011-07-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListMarketplaceParticipations", "GetServiceStatus"},
	},
	"subscriptions": {
		Name:         "subscriptions",
		URIPath:      "/Subscriptions/2013-07-01",
		Version:      "2013-07-01",
		AccountParam: "SellerId",
		ActionParam:  "Action",
		Operations:   []string{"ListSubscriptions", "CreateSubscription", "GetServiceStatus"},
	},
	"pa": {
		Name:         "pa",
		URIPath:      "/onca/xml",
		Version:      "",
		AccountParam: "AssociateTag",
		ActionParam:  "Operation",
		Operations:   []string{"ItemSearch", "ItemLookup"},
	},
}

// SectionFor returns the SectionSpec for the given section name
// (case-insensitive). The second return value reports whether the section is
// recognized.
func SectionFor(name string) (SectionSpec, bool) {
	spec, ok := sections[strings.ToLower(name)]
	return spec, ok
}
