// Package amzxml normalizes Amazon API XML responses. Amazon returns a
// different default namespace per endpoint, so every response is stripped of
// namespaces before parsing and all downstream queries use plain path
// expressions.
package amzxml

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

var (
	reNSDecl  = regexp.MustCompile(`(?i) xmlns(:\w*)?="[^"]*"`)
	reNSOpen  = regexp.MustCompile(`<\w+:`)
	reNSClose = regexp.MustCompile(`/\w+:`)
)

// StripNamespaces removes all traces of namespaces from the given XML string:
// declarations first, then prefixes in opening tags, then prefixes in closing
// and self-closing tags.
func StripNamespaces(xml string) string {
	out := reNSDecl.ReplaceAllString(xml, "")
	out = reNSOpen.ReplaceAllString(out, "<")
	out = reNSClose.ReplaceAllString(out, "/")
	return out
}

// Response is a parsed, namespace-free Amazon response.
type Response struct {
	// Raw is the sanitized XML body.
	Raw string

	// Tree is the document root.
	Tree *xmlquery.Node
}

// Parse strips namespaces from body and parses it. A body that is not
// well-formed XML after stripping is a parse error, never an empty tree.
func Parse(body string) (*Response, error) {
	raw := StripNamespaces(body)
	tree, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing response XML: %w", err)
	}
	return &Response{Raw: raw, Tree: tree}, nil
}

// Value returns the text of the first node matching path under root, or def
// when there is no match or the matched node has no text. A nil root means
// the document root.
func (r *Response) Value(path string, root *xmlquery.Node, def string) string {
	node := r.find(path, root)
	if node == nil {
		return def
	}
	text := node.InnerText()
	if text == "" {
		return def
	}
	return text
}

// Int is Value with an integer cast; cast failure returns def.
func (r *Response) Int(path string, root *xmlquery.Node, def int) (int, bool) {
	node := r.find(path, root)
	if node == nil {
		return def, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(node.InnerText()))
	if err != nil {
		return def, false
	}
	return n, true
}

// Float is Value with a float cast; cast failure returns def.
func (r *Response) Float(path string, root *xmlquery.Node, def float64) (float64, bool) {
	node := r.find(path, root)
	if node == nil {
		return def, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(node.InnerText()), 64)
	if err != nil {
		return def, false
	}
	return f, true
}

func (r *Response) find(path string, root *xmlquery.Node) *xmlquery.Node {
	if root == nil {
		root = r.Tree
	}
	node, err := xmlquery.Query(root, path)
	if err != nil {
		return nil
	}
	return node
}

// ErrorCode returns the code from an Amazon error envelope, or "" when the
// response is not an error.
func (r *Response) ErrorCode() string {
	return r.Value("/ErrorResponse/Error/Code", nil, "")
}

// ErrorMessage returns the message from an Amazon error envelope.
func (r *Response) ErrorMessage() string {
	return r.Value("/ErrorResponse/Error/Message", nil, "")
}

// RequestID returns the RequestID reported by Amazon, error or not.
func (r *Response) RequestID() string {
	return r.Value("//RequestID", nil, "")
}

// ErrorEnvelope is the normalized form of an Amazon error response.
type ErrorEnvelope struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// ErrorJSON formats an error response as the stable envelope callers branch
// on: {"error": {"code", "message", "request_id"}}.
func (r *Response) ErrorJSON() map[string]any {
	return map[string]any{
		"error": ErrorEnvelope{
			Code:      r.ErrorCode(),
			Message:   r.ErrorMessage(),
			RequestID: r.RequestID(),
		},
	}
}
