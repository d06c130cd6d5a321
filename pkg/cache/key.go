package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// keyPrefix namespaces cache keys in Redis.
const keyPrefix = "forgesync:http"

// Key identifies a stored response.
type Key struct {
	Method string

	// Host and Path of the request URL.
	Host string
	Path string

	Query url.Values

	// Credential is a fingerprint of the Authorization header, empty for
	// anonymous requests.
	Credential string
}

// KeyFromRequest derives the key of req.
func KeyFromRequest(req *http.Request) Key {
	k := Key{
		Method: req.Method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
	}
	if auth := req.Header.Get("Authorization"); auth != "" {
		sum := sha256.Sum256([]byte(auth))
		k.Credential = hex.EncodeToString(sum[:8])
	}
	return k
}

// String generates a deterministic key string.
// Format: forgesync:http:METHOD:host/path:query1=val1:query2=val2:cred=abcd
//
// Example:
//
//	forgesync:http:GET:api.github.com/repos/o/r/pulls:page=2:state=all
func (k Key) String() string {
	method := k.Method
	if method == "" {
		method = http.MethodGet
	}
	parts := []string{keyPrefix, method, k.Host + "/" + strings.Trim(k.Path, "/")}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	if k.Credential != "" {
		parts = append(parts, "cred="+k.Credential)
	}

	return strings.Join(parts, ":")
}
