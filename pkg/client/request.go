package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Request describes one logical upstream request. It is immutable: the
// With* methods return a new Request and leave the receiver untouched.
type Request struct {
	method string
	url    *url.URL
	header http.Header
	body   []byte
}

// NewRequest creates a request. body may be nil.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		method: method,
		url:    u,
		header: http.Header{},
		body:   bytes.Clone(body),
	}, nil
}

// MustRequest is like NewRequest but panics on an invalid URL.
func MustRequest(method, rawURL string, body []byte) *Request {
	req, err := NewRequest(method, rawURL, body)
	if err != nil {
		panic(err)
	}
	return req
}

// Get is shorthand for a GET request without body.
func Get(rawURL string) (*Request, error) {
	return NewRequest(http.MethodGet, rawURL, nil)
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// URL returns a copy of the request URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Header returns a copy of the request headers.
func (r *Request) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the request body.
func (r *Request) Body() []byte { return bytes.Clone(r.body) }

func (r *Request) clone() *Request {
	return &Request{
		method: r.method,
		url:    r.URL(),
		header: r.header.Clone(),
		body:   r.body,
	}
}

// WithURL returns a request for ref, resolved against the current URL.
func (r *Request) WithURL(ref string) (*Request, error) {
	u, err := r.url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	next := r.clone()
	next.url = u
	return next, nil
}

// WithQuery returns a request with the query parameter key set to value.
func (r *Request) WithQuery(key, value string) *Request {
	next := r.clone()
	q := next.url.Query()
	q.Set(key, value)
	next.url.RawQuery = q.Encode()
	return next
}

// WithHeader returns a request with the header key set to value.
func (r *Request) WithHeader(key, value string) *Request {
	next := r.clone()
	next.header.Set(key, value)
	return next
}

// HTTP builds the *http.Request for one attempt.
func (r *Request) HTTP(ctx context.Context) (*http.Request, error) {
	var body *bytes.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method, r.url.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method, r.url.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = r.header.Clone()
	return req, nil
}

// String returns "METHOD URL".
func (r *Request) String() string {
	return r.method + " " + r.url.String()
}

// Curl renders the request as a shell command. Credentials are redacted.
func (r *Request) Curl() string {
	parts := []string{"curl"}
	if r.method != http.MethodGet {
		parts = append(parts, "-X", r.method)
	}

	keys := make([]string, 0, len(r.header))
	for key := range r.header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := r.header.Get(key)
		if strings.EqualFold(key, "Authorization") {
			value = "REDACTED"
		}
		parts = append(parts, "-H", shellQuote(key+": "+value))
	}

	if len(r.body) > 0 {
		parts = append(parts, "--data", shellQuote(string(r.body)))
	}
	parts = append(parts, shellQuote(r.url.String()))
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
