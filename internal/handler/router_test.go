package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/broccoli-gateway/internal/gateway"
)

// fakeInvoker records the last call and returns a canned result.
type fakeInvoker struct {
	fqn    string
	args   []any
	kwargs map[string]any

	result any
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, fqn string, args []any, kwargs map[string]any) (any, error) {
	f.fqn = fqn
	f.args = args
	f.kwargs = kwargs
	return f.result, f.err
}

func testRouter(invoker *fakeInvoker) http.Handler {
	return NewRouter(RouterConfig{
		Gateway: invoker,
		Logger:  zerolog.Nop(),
	}).Handler()
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(&fakeInvoker{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHandleTaskSplitsArgsAndKwargs(t *testing.T) {
	invoker := &fakeInvoker{result: "GREEN"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/products/ListMatchingProducts?widget&priority=2", nil)
	testRouter(invoker).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "products.ListMatchingProducts", invoker.fqn)
	require.Equal(t, []any{"widget"}, invoker.args)
	require.Equal(t, map[string]any{"priority": "2"}, invoker.kwargs)

	var result string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "GREEN", result)
}

func TestHandleTaskPositionalArgsKeepQueryOrder(t *testing.T) {
	invoker := &fakeInvoker{result: 4.35}

	// asin and price bind by position, so the query order must survive.
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet,
			"/api/products/GetMyFeesEstimate?B000123&9.99", nil)
		testRouter(invoker).ServeHTTP(httptest.NewRecorder(), req)

		require.Equal(t, "products.GetMyFeesEstimate", invoker.fqn)
		require.Equal(t, []any{"B000123", "9.99"}, invoker.args)
	}
}

func TestSplitQuery(t *testing.T) {
	args, kwargs := splitQuery("B000123&9.99&marketplace_id=US&priority=2")
	require.Equal(t, []any{"B000123", "9.99"}, args)
	require.Equal(t, map[string]any{"marketplace_id": "US", "priority": "2"}, kwargs)

	// Escapes decode in both positions.
	args, kwargs = splitQuery("a%20widget&query=a+widget")
	require.Equal(t, []any{"a widget"}, args)
	require.Equal(t, map[string]any{"query": "a widget"}, kwargs)

	// A trailing "=" still counts as positional, same as no "=" at all.
	args, _ = splitQuery("first=&second")
	require.Equal(t, []any{"first", "second"}, args)

	args, kwargs = splitQuery("")
	require.Empty(t, args)
	require.Empty(t, kwargs)
}

func TestHandleTaskRepeatedParamBecomesList(t *testing.T) {
	invoker := &fakeInvoker{result: map[string]any{}}

	req := httptest.NewRequest(http.MethodGet,
		"/api/products/GetCompetitivePricingForASIN?asins=B000123&asins=B000456", nil)
	testRouter(invoker).ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, map[string]any{
		"asins": []any{"B000123", "B000456"},
	}, invoker.kwargs)
}

func TestHandleTaskUnknownActionIs404(t *testing.T) {
	invoker := &fakeInvoker{err: gateway.ErrNotSupported}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/products/NoSuchAction", nil)
	testRouter(invoker).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTaskGatewayErrorIs502(t *testing.T) {
	invoker := &fakeInvoker{err: context.DeadlineExceeded}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/products/GetServiceStatus", nil)
	testRouter(invoker).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(&fakeInvoker{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
