// Package gateway orchestrates outbound Amazon API calls: cache lookup,
// quota wait, request signing, HTTP dispatch, response projection, and
// result caching.
package gateway

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/broccoli-gateway/internal/amzxml"
	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
	"github.com/prn-tf/broccoli-gateway/internal/metrics"
	"github.com/prn-tf/broccoli-gateway/internal/mws"
	"github.com/prn-tf/broccoli-gateway/internal/throttle"
)

// userAgent identifies the gateway to Amazon.
const userAgent = "amazonmws/0.0.1 (Language=Go)"

// defaultHTTPTimeout is the soft time limit for one outbound call.
const defaultHTTPTimeout = 30 * time.Second

// Gateway errors.
var (
	// ErrNotSupported indicates an unknown section or action.
	ErrNotSupported = errors.New("action not supported")
)

// Config configures a Gateway.
type Config struct {
	// Credentials is the Amazon account material. Required.
	Credentials mws.Credentials

	// Store is the shared kvstore. Required.
	Store kvstore.Store

	// HTTPClient overrides the default 30 s client. Optional.
	HTTPClient *http.Client

	// PendingTTL overrides the in-flight counter TTL. Optional.
	PendingTTL time.Duration

	// TTLOverrides replaces per-action cache TTLs, keyed by fully
	// qualified action name. Optional.
	TTLOverrides map[string]time.Duration

	// Metrics receives instrumentation. Optional.
	Metrics *metrics.Metrics

	Logger zerolog.Logger
}

// Gateway is one worker's long-lived entry point to the Amazon APIs.
// Safe for concurrent use; per-call state (the throttler and its limits
// copy) is created inside Invoke.
type Gateway struct {
	creds        mws.Credentials
	store        kvstore.Store
	client       *http.Client
	signers      map[string]*mws.Signer
	pendingTTL   time.Duration
	ttlOverrides map[string]time.Duration
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// New validates the credentials against every section the task table uses
// and returns a ready Gateway. Invalid credentials, regions, or marketplaces
// fail here, not at call time.
func New(cfg Config) (*Gateway, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: store is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	signers := make(map[string]*mws.Signer)
	for _, t := range taskTable {
		if _, ok := signers[t.section]; ok {
			continue
		}
		spec, ok := mws.SectionFor(t.section)
		if !ok {
			return nil, fmt.Errorf("gateway: unknown section %q", t.section)
		}
		signer, err := mws.NewSigner(cfg.Credentials, spec)
		if err != nil {
			return nil, fmt.Errorf("gateway: section %s: %w", t.section, err)
		}
		signers[t.section] = signer
	}

	return &Gateway{
		creds:        cfg.Credentials,
		store:        cfg.Store,
		client:       client,
		signers:      signers,
		pendingTTL:   cfg.PendingTTL,
		ttlOverrides: cfg.TTLOverrides,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// Invoke performs one call to the fully qualified action ("section.Action").
// Amazon-signaled errors come back as {"error": {...}} values, not Go
// errors; transport and parse errors propagate unchanged.
func (g *Gateway) Invoke(ctx context.Context, fqn string, args []any, kwargs map[string]any) (any, error) {
	t, ok := taskTable[fqn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, fqn)
	}

	// Pop the priority before the cache key and the signature see it.
	kwargs, priority := popPriority(kwargs)

	cacheTTL := t.cacheTTL
	if override, ok := g.ttlOverrides[fqn]; ok {
		cacheTTL = override
	}

	key, err := callKey(fqn, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("building cache key: %w", err)
	}

	if cacheTTL > 0 {
		if value, ok := g.cacheGet(ctx, fqn, key); ok {
			return value, nil
		}
	}

	signer := g.signers[t.section]

	params, err := t.params(signer, args, kwargs)
	if err != nil {
		return nil, err
	}
	if signer.Section().ProductAdvertising() {
		params["Service"] = "AWSECommerceService"
	}

	limits := throttle.DefaultLimits()
	if t.restoreRateAdjust > 0 {
		if l, ok := limits[t.action]; ok {
			l.RestoreRate += t.restoreRateAdjust
			limits[t.action] = l
		}
	}
	throttle.ApplyPriority(limits, priority)

	th := throttle.New(throttle.Config{
		Store:      g.store,
		Limits:     limits,
		PendingTTL: g.pendingTTL,
		Logger:     g.logger,
	})

	waitStart := time.Now()
	if err := th.Acquire(ctx, fqn); err != nil {
		// Cancelled mid-wait: the in-flight mark still has to come off.
		th.Release(context.WithoutCancel(ctx), fqn)
		return nil, err
	}
	g.observeWait(fqn, time.Since(waitStart))

	released := false
	release := func() {
		if !released {
			released = true
			th.Release(context.WithoutCancel(ctx), fqn)
		}
	}
	defer release()

	body, err := g.dispatch(ctx, signer, t.action, params, kwargs)
	if err != nil {
		g.count(fqn, "transport_error")
		return nil, err
	}

	resp, err := amzxml.Parse(body)
	if err != nil {
		g.count(fqn, "parse_error")
		return nil, err
	}

	if resp.ErrorCode() != "" {
		g.count(fqn, "amazon_error")
		return resp.ErrorJSON(), nil
	}

	value, err := t.project(resp)
	if err != nil {
		g.count(fqn, "parse_error")
		return nil, err
	}

	release()

	if cacheTTL > 0 {
		g.cacheSet(ctx, fqn, key, value, cacheTTL)
	}

	g.count(fqn, "ok")
	return value, nil
}

// dispatch signs and performs the HTTP call: POST for MWS, GET for PA. A
// "body" kwarg is sent as the request body with Content-MD5 and an XML
// content type.
func (g *Gateway) dispatch(ctx context.Context, signer *mws.Signer, action string, params, kwargs map[string]any) (string, error) {
	method := http.MethodPost
	if signer.Section().ProductAdvertising() {
		method = http.MethodGet
	}

	url, err := signer.BuildURL(method, action, params)
	if err != nil {
		return "", err
	}

	var reqBody io.Reader
	bodyText, _ := kwargs["body"].(string)
	if bodyText != "" {
		reqBody = strings.NewReader(bodyText)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	if bodyText != "" {
		sum := md5.Sum([]byte(bodyText))
		req.Header.Set("Content-MD5", strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "\n"))
		req.Header.Set("Content-Type", "text/xml")
	}

	res, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// cacheGet reads and decodes a cached result. Failures count as misses.
func (g *Gateway) cacheGet(ctx context.Context, fqn, key string) (any, bool) {
	raw, err := g.store.Get(ctx, key)
	if err != nil {
		if err != kvstore.ErrNotFound {
			g.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		if g.metrics != nil {
			g.metrics.CacheMisses.WithLabelValues(fqn).Inc()
		}
		return nil, false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("decoding cached value")
		return nil, false
	}

	g.logger.Debug().Str("key", key).Msg("using cached value")
	if g.metrics != nil {
		g.metrics.CacheHits.WithLabelValues(fqn).Inc()
	}
	g.count(fqn, "cached")
	return value, true
}

// cacheSet stores a result; failures are logged and swallowed.
func (g *Gateway) cacheSet(ctx context.Context, fqn, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("encoding result for cache")
		return
	}
	if err := g.store.Set(ctx, key, data, ttl); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (g *Gateway) count(fqn, outcome string) {
	if g.metrics != nil {
		g.metrics.Calls.WithLabelValues(fqn, outcome).Inc()
	}
}

func (g *Gateway) observeWait(fqn string, d time.Duration) {
	if g.metrics != nil {
		g.metrics.ThrottleWait.WithLabelValues(fqn).Observe(d.Seconds())
	}
}

// popPriority returns a copy of kwargs without the priority key, plus the
// clamped priority value.
func popPriority(kwargs map[string]any) (map[string]any, int) {
	out := make(map[string]any, len(kwargs))
	var priority int
	for k, v := range kwargs {
		if k == "priority" {
			priority = throttle.ClampPriority(v)
			continue
		}
		out[k] = v
	}
	return out, priority
}
