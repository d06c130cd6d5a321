package cache

import (
	"net/http"
	"time"
)

// Entry is a stored response.
type Entry struct {
	// Body is the response body.
	Body []byte `json:"body"`

	// ETag for If-None-Match.
	ETag string `json:"etag"`

	// LastModified for If-Modified-Since, used when there is no ETag.
	LastModified time.Time `json:"last_modified"`

	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`

	// CachedAt is when the response was stored.
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
