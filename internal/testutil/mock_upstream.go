// Package testutil provides a configurable mock of the GitHub and Jira
// REST APIs for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock REST server.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	requests          []string
	lastRequestHeader http.Header
}

// NewMockUpstream creates and starts a mock server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.requests = append(mock.requests, r.URL.RequestURI())
		mock.lastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.requests = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		write(w, resp)
	})
}

// SetSequence answers successive requests to path with resps in order.
// The last response repeats once the sequence is used up.
func (m *MockUpstream) SetSequence(path string, resps ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		mu.Unlock()
		write(w, resp)
	})
}

// SetPages serves pages as ?page=1..N of path, each but the last with a
// Link: rel="next" header, the way GitHub paginates list endpoints.
func (m *MockUpstream) SetPages(path string, pages ...string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		if page < 1 || page > len(pages) {
			write(w, MockResponse{StatusCode: http.StatusOK, Body: "[]", Headers: jsonHeaders()})
			return
		}

		headers := jsonHeaders()
		if page < len(pages) {
			next := *r.URL
			q := next.Query()
			q.Set("page", strconv.Itoa(page+1))
			next.RawQuery = q.Encode()
			headers["Link"] = fmt.Sprintf(`<%s%s>; rel="next", <%s%s?page=%d>; rel="last"`,
				m.server.URL, next.RequestURI(), m.server.URL, r.URL.Path, len(pages))
		}
		write(w, MockResponse{StatusCode: http.StatusOK, Body: pages[page-1], Headers: headers})
	})
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockUpstream) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockUpstream) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// Requests returns the request URIs in arrival order.
func (m *MockUpstream) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.requests...)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// defaultHandler answers like GitHub does for unknown paths.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	resp := NewJSONResponse(`{"message":"Not Found","documentation_url":"https://docs.github.com/rest"}`)
	resp.StatusCode = http.StatusNotFound
	write(w, resp)
}

func jsonHeaders() map[string]string {
	return map[string]string{
		"Content-Type":          "application/json; charset=utf-8",
		"X-RateLimit-Limit":     "5000",
		"X-RateLimit-Remaining": "4999",
		"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	}
}

// NewJSONResponse creates a 200 OK JSON response with healthy quota headers.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    jsonHeaders(),
	}
}

// NewAcceptedResponse creates the 202 placeholder GitHub returns while
// repository statistics are computed.
func NewAcceptedResponse() MockResponse {
	resp := NewJSONResponse("{}")
	resp.StatusCode = http.StatusAccepted
	return resp
}

// NewNotModifiedResponse creates a 304 Not Modified response.
func NewNotModifiedResponse() MockResponse {
	headers := jsonHeaders()
	delete(headers, "Content-Type")
	return MockResponse{StatusCode: http.StatusNotModified, Headers: headers}
}

// NewRateLimitedResponse creates the 403 GitHub returns once the quota is
// exhausted; the window resets at reset.
func NewRateLimitedResponse(reset time.Time) MockResponse {
	headers := jsonHeaders()
	headers["X-RateLimit-Remaining"] = "0"
	headers["X-RateLimit-Reset"] = strconv.FormatInt(reset.Unix(), 10)
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message":"API rate limit exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 502 Bad Gateway response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `{"message":"Server Error"}`,
		Headers:    jsonHeaders(),
	}
}

// NewConditionalHandler creates a handler that responds with 304 for
// requests carrying etag in If-None-Match.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			write(w, NewNotModifiedResponse())
			return
		}
		resp := NewJSONResponse(data)
		resp.Headers["ETag"] = etag
		write(w, resp)
	}
}
