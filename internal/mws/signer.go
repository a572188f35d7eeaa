package mws

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Signing errors.
var (
	// ErrUnsupportedMethod indicates an HTTP method other than GET or POST.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")

	// ErrMissingCredentials indicates an empty access key, secret key, or
	// account identifier.
	ErrMissingCredentials = errors.New("access key, secret key, and account id are required")
)

// Credentials holds the per-gateway Amazon account material. The secret key
// is used as the HMAC-SHA256 signing key and never leaves the signer.
type Credentials struct {
	AccessKey string
	SecretKey string

	// AccountID is the SellerId for MWS sections.
	AccountID string

	// AssociateTag replaces AccountID on Product Advertising requests when
	// set.
	AssociateTag string

	// AuthToken is the optional MWS delegated-access token.
	AuthToken string

	// Domain is either a two-letter region code or a literal hostname.
	Domain string

	// DefaultMarket is either a two-letter country code or a literal
	// marketplace id.
	DefaultMarket string
}

// Signer builds canonical query strings and SigV2 signatures for one API
// section. Immutable after construction.
type Signer struct {
	creds   Credentials
	section SectionSpec
	host    string
	market  string
	account string

	now func() time.Time
}

// NewSigner validates the credentials against the section and resolves the
// endpoint host and default marketplace. Two-letter domain and market inputs
// must be recognized region or country codes.
func NewSigner(creds Credentials, section SectionSpec) (*Signer, error) {
	if creds.AccessKey == "" || creds.SecretKey == "" || creds.AccountID == "" {
		return nil, ErrMissingCredentials
	}

	domain := creds.Domain
	if domain == "" {
		if section.ProductAdvertising() {
			domain = "US"
		} else {
			domain = "NA"
		}
	}

	var host string
	if section.ProductAdvertising() {
		if len(domain) == 2 {
			h, ok := PAEndpoints[domain]
			if !ok {
				return nil, fmt.Errorf("invalid region %q, recognized values are %s", domain, sortedKeys(PAEndpoints))
			}
			host = h
		} else {
			host = domain
		}
	} else {
		h, err := ResolveDomain(domain)
		if err != nil {
			return nil, err
		}
		host = h
	}

	market := creds.DefaultMarket
	if market == "" {
		market = "US"
	}
	market, err := ResolveMarketplace(market)
	if err != nil {
		return nil, err
	}

	account := creds.AccountID
	if section.ProductAdvertising() && creds.AssociateTag != "" {
		account = creds.AssociateTag
	}

	return &Signer{
		creds:   creds,
		section: section,
		host:    host,
		market:  market,
		account: account,
		now:     time.Now,
	}, nil
}

// Host returns the resolved endpoint hostname.
func (s *Signer) Host() string { return s.host }

// Section returns the bound section spec.
func (s *Signer) Section() SectionSpec { return s.section }

// DefaultMarketplace returns the resolved default marketplace id.
func (s *Signer) DefaultMarketplace() string { return s.market }

// EnumerateList flattens a list parameter into the indexed form MWS expects.
// The item tag is "Id" for MarketplaceId, otherwise the root with the first
// "List" removed (ASINList -> ASIN). Map-valued items expand each inner key
// under the indexed base.
func EnumerateList(root string, values []any) map[string]string {
	tag := "Id"
	if root != "MarketplaceId" {
		tag = strings.Replace(root, "List", "", 1)
	}

	params := make(map[string]string)
	for i, val := range values {
		base := fmt.Sprintf("%s.%s.%d", root, tag, i+1)
		if inner, ok := val.(map[string]any); ok {
			for k, v := range inner {
				params[base+"."+k] = paramString(v)
			}
		} else {
			params[base] = paramString(val)
		}
	}
	return params
}

// BuildParams assembles the canonical, sorted, URL-encoded query string for
// an action. Keys beginning or ending with "List" are expanded via
// EnumerateList; other keys pass through when their value is truthy.
func (s *Signer) BuildParams(action string, kwargs map[string]any) string {
	params := map[string]string{
		"AWSAccessKeyId":   s.creds.AccessKey,
		"SignatureMethod":  "HmacSHA256",
		"SignatureVersion": "2",
		"Timestamp":        s.now().UTC().Format("2006-01-02T15:04:05Z"),
		"Version":          s.section.Version,
	}
	params[s.section.ActionParam] = action
	params[s.section.AccountParam] = s.account

	if s.creds.AuthToken != "" {
		params["MWSAuthToken"] = s.creds.AuthToken
	}

	for k, v := range kwargs {
		if strings.HasPrefix(k, "List") || strings.HasSuffix(k, "List") {
			for ek, ev := range EnumerateList(k, listValues(v)) {
				params[ek] = ev
			}
		} else if truthy(v) {
			params[k] = paramString(v)
		}
	}

	quoted := make(map[string]string, len(params))
	keys := make([]string, 0, len(params))
	for k, v := range params {
		qk := percentEncode(k)
		quoted[qk] = percentEncode(v)
		keys = append(keys, qk)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+quoted[k])
	}
	return strings.Join(pairs, "&")
}

// BuildURL returns the full signed request URL. The signature is an
// HMAC-SHA256 over "<METHOD>\n<host_lower>\n<uri>\n<canonical_params>",
// base64-encoded and appended as the Signature parameter.
func (s *Signer) BuildURL(method, action string, kwargs map[string]any) (string, error) {
	method = strings.ToUpper(method)
	if method != "GET" && method != "POST" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	params := s.BuildParams(action, kwargs)

	stringToSign := strings.Join([]string{
		method,
		strings.ToLower(s.host),
		s.section.URIPath,
		params,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(s.creds.SecretKey))
	mac.Write([]byte(stringToSign))
	signature := percentEncode(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("https://%s%s?%s&Signature=%s", s.host, s.section.URIPath, params, signature), nil
}

// percentEncode encodes every byte outside the unreserved set
// (ALPHA / DIGIT / "-" / "_" / "." / "~") as uppercase %XX.
func percentEncode(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

// listValues coerces a list-parameter value: []any passes through, other
// slice types convert element-wise, and a bare scalar becomes a one-element
// list rather than vanishing from the request.
func listValues(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return []any{t}
	}
}

// paramString serializes a parameter value. Booleans become "true"/"false";
// floats are formatted without exponent and without added trailing zeros.
func paramString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// truthy mirrors the pass-through rule for plain parameters: zero values and
// empty strings are dropped.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	default:
		return true
	}
}
