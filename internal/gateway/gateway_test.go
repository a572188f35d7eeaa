package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
	"github.com/prn-tf/broccoli-gateway/internal/mws"
)

// fakeTransport serves a canned body per action and records every request.
type fakeTransport struct {
	responses map[string]string
	requests  []*http.Request
}

func (ft *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ft.requests = append(ft.requests, req)

	query := req.URL.Query()
	action := query.Get("Action")
	if action == "" {
		action = query.Get("Operation")
	}
	body, ok := ft.responses[action]
	if !ok {
		body = `<ErrorResponse><Error><Code>InvalidAction</Code><Message>unknown</Message></Error><RequestID>R0</RequestID></ErrorResponse>`
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func testGateway(t *testing.T, responses map[string]string) (*Gateway, *fakeTransport, *kvstore.MemoryStore) {
	t.Helper()

	store := kvstore.NewMemoryStore()
	t.Cleanup(store.Stop)

	transport := &fakeTransport{responses: responses}

	gw, err := New(Config{
		Credentials: mws.Credentials{
			AccessKey: "test_access_key",
			SecretKey: "test_secret_key",
			AccountID: "test_account_id",
		},
		Store:      store,
		HTTPClient: &http.Client{Transport: transport},
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	return gw, transport, store
}

const serviceStatusXML = `<GetServiceStatusResponse xmlns="http://mws.amazonservices.com/schema/Products/2011-10-01">` +
	`<GetServiceStatusResult><Status>GREEN</Status></GetServiceStatusResult>` +
	`<ResponseMetadata><RequestId>R1</RequestId></ResponseMetadata>` +
	`</GetServiceStatusResponse>`

func TestInvokeUnknownAction(t *testing.T) {
	gw, _, _ := testGateway(t, nil)

	_, err := gw.Invoke(context.Background(), "products.DoesNotExist", nil, nil)
	require.ErrorIs(t, err, ErrNotSupported)

	_, err = gw.Invoke(context.Background(), "nosuchsection.GetServiceStatus", nil, nil)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestInvokeServiceStatus(t *testing.T) {
	gw, transport, _ := testGateway(t, map[string]string{
		"GetServiceStatus": serviceStatusXML,
	})

	result, err := gw.Invoke(context.Background(), "products.GetServiceStatus", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "GREEN", result)

	require.Len(t, transport.requests, 1)
	req := transport.requests[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "mws.amazonservices.com", req.URL.Host)
	require.Equal(t, "/Products/2011-10-01", req.URL.Path)
	require.NotEmpty(t, req.URL.Query().Get("Signature"))
}

func TestInvokeSecondCallIsCached(t *testing.T) {
	gw, transport, _ := testGateway(t, map[string]string{
		"GetServiceStatus": serviceStatusXML,
	})

	for i := 0; i < 2; i++ {
		result, err := gw.Invoke(context.Background(), "products.GetServiceStatus", nil, nil)
		require.NoError(t, err)
		require.Equal(t, "GREEN", result)
	}

	require.Len(t, transport.requests, 1)
}

func TestInvokeListMatchingProducts(t *testing.T) {
	body := `<ListMatchingProductsResponse xmlns="http://mws.amazonservices.com/schema/Products/2011-10-01">` +
		`<ListMatchingProductsResult><Products><Product>` +
		`<Identifiers><MarketplaceASIN><MarketplaceId>ATVPDKIKX0DER</MarketplaceId><ASIN>B000123</ASIN></MarketplaceASIN></Identifiers>` +
		`<AttributeSets><ItemAttributes><Title>A Widget</Title><Brand>Acme</Brand></ItemAttributes></AttributeSets>` +
		`</Product></Products></ListMatchingProductsResult>` +
		`</ListMatchingProductsResponse>`

	gw, transport, _ := testGateway(t, map[string]string{
		"ListMatchingProducts": body,
	})

	result, err := gw.Invoke(context.Background(), "products.ListMatchingProducts",
		[]any{"a widget"}, map[string]any{"marketplace_id": "US"})
	require.NoError(t, err)

	records, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, records, 1)

	record, ok := records[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "B000123", record["sku"])
	require.Equal(t, "A Widget", record["title"])
	require.Equal(t, "Acme", record["brand"])
	// Fields Amazon did not send are omitted, not zeroed.
	require.NotContains(t, record, "price")
	require.NotContains(t, record, "rank")

	query := transport.requests[0].URL.Query()
	require.Equal(t, "a widget", query.Get("Query"))
	require.Equal(t, "ATVPDKIKX0DER", query.Get("MarketplaceId"))
}

func TestInvokeRequiresQuery(t *testing.T) {
	gw, transport, _ := testGateway(t, nil)

	_, err := gw.Invoke(context.Background(), "products.ListMatchingProducts", nil, nil)
	require.Error(t, err)
	require.Empty(t, transport.requests)
}

func TestInvokePriorityIsInvisibleToSigningAndCache(t *testing.T) {
	gw, transport, _ := testGateway(t, map[string]string{
		"GetServiceStatus": serviceStatusXML,
	})

	_, err := gw.Invoke(context.Background(), "products.GetServiceStatus",
		nil, map[string]any{"priority": "2"})
	require.NoError(t, err)

	query := transport.requests[0].URL.Query()
	require.Empty(t, query.Get("priority"))

	// Same call without the priority kwarg hits the cache.
	_, err = gw.Invoke(context.Background(), "products.GetServiceStatus", nil, nil)
	require.NoError(t, err)
	require.Len(t, transport.requests, 1)
}

func TestInvokeAmazonErrorIsReturnedNotCached(t *testing.T) {
	body := `<ErrorResponse xmlns="http://mws.amazonservices.com/">` +
		`<Error><Code>RequestThrottled</Code><Message>slow down</Message></Error>` +
		`<RequestID>R9</RequestID></ErrorResponse>`

	gw, transport, _ := testGateway(t, map[string]string{
		"GetServiceStatus": body,
	})

	// Priority 2 widens the ceiling so back-to-back calls never wait.
	for i := 0; i < 2; i++ {
		result, err := gw.Invoke(context.Background(), "products.GetServiceStatus",
			nil, map[string]any{"priority": 2})
		require.NoError(t, err)

		envelope, ok := result.(map[string]any)
		require.True(t, ok)
		require.Contains(t, envelope, "error")
	}

	// Error responses never enter the cache.
	require.Len(t, transport.requests, 2)
}

func TestInvokeReleasesQuotaState(t *testing.T) {
	gw, _, store := testGateway(t, map[string]string{
		"GetServiceStatus": serviceStatusXML,
	})

	_, err := gw.Invoke(context.Background(), "products.GetServiceStatus", nil, nil)
	require.NoError(t, err)

	// Usage persisted, in-flight counter drained.
	_, err = store.Get(context.Background(), "products.GetServiceStatus_usage")
	require.NoError(t, err)

	raw, err := store.Get(context.Background(), "products.GetServiceStatus_pending")
	require.NoError(t, err)
	require.Equal(t, "0", string(raw))
}

func TestInvokeProductAdvertisingUsesGET(t *testing.T) {
	body := `<ItemSearchResponse xmlns="http://webservices.amazon.com/AWSECommerceService/2011-08-01">` +
		`<Items><Item><ASIN>B000123</ASIN><DetailPageURL>https://example.test/dp/B000123</DetailPageURL>` +
		`<ItemAttributes><Title>A Widget</Title><Brand>Acme</Brand></ItemAttributes></Item></Items>` +
		`</ItemSearchResponse>`

	gw, transport, _ := testGateway(t, map[string]string{
		"ItemSearch": body,
	})

	result, err := gw.Invoke(context.Background(), "pa.ItemSearch",
		[]any{"widget"}, nil)
	require.NoError(t, err)

	records, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, records, 1)

	record := records[0].(map[string]any)
	require.Equal(t, "B000123", record["sku"])
	require.Equal(t, "A Widget", record["title"])

	req := transport.requests[0]
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "/onca/xml", req.URL.Path)

	query := req.URL.Query()
	require.Equal(t, "AWSECommerceService", query.Get("Service"))
	require.Equal(t, "ItemSearch", query.Get("Operation"))
	require.Equal(t, "All", query.Get("SearchIndex"))
}

func TestCallKeyStability(t *testing.T) {
	a, err := callKey("products.ListMatchingProducts", []any{"widget"}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := callKey("products.ListMatchingProducts", []any{"widget"}, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "products.ListMatchingProducts_"))

	c, err := callKey("products.ListMatchingProducts", []any{"widget"}, map[string]any{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	// Nil and empty call signatures collapse to the same key.
	d, err := callKey("products.GetServiceStatus", nil, nil)
	require.NoError(t, err)
	e, err := callKey("products.GetServiceStatus", []any{}, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, d, e)
}
