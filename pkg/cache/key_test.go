package cache

import (
	"net/http"
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name     string
		key      Key
		expected string
	}{
		{
			name:     "simple path",
			key:      Key{Method: "GET", Host: "api.github.com", Path: "/repos/o/r/releases"},
			expected: "forgesync:http:GET:api.github.com/repos/o/r/releases",
		},
		{
			name:     "default method",
			key:      Key{Host: "api.github.com", Path: "/repos/o/r/"},
			expected: "forgesync:http:GET:api.github.com/repos/o/r",
		},
		{
			name: "query params sorted",
			key: Key{
				Method: "GET",
				Host:   "api.github.com",
				Path:   "/repos/o/r/pulls",
				Query:  url.Values{"state": {"all"}, "page": {"2"}},
			},
			expected: "forgesync:http:GET:api.github.com/repos/o/r/pulls:page=2:state=all",
		},
		{
			name: "multi valued query sorted",
			key: Key{
				Method: "GET",
				Host:   "jira.example.com",
				Path:   "/rest/api/2/search",
				Query:  url.Values{"fields": {"summary", "key"}},
			},
			expected: "forgesync:http:GET:jira.example.com/rest/api/2/search:fields=key,summary",
		},
		{
			name:     "with credential",
			key:      Key{Method: "GET", Host: "api.github.com", Path: "/user", Credential: "abcd"},
			expected: "forgesync:http:GET:api.github.com/user:cred=abcd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKeyFromRequest_Deterministic(t *testing.T) {
	a, _ := http.NewRequest("GET", "https://api.github.com/repos/o/r/pulls?state=all&page=2", nil)
	b, _ := http.NewRequest("GET", "https://api.github.com/repos/o/r/pulls?page=2&state=all", nil)

	if KeyFromRequest(a).String() != KeyFromRequest(b).String() {
		t.Error("query order should not change the key")
	}
}

func TestKeyFromRequest_SeparatesCredentials(t *testing.T) {
	anon, _ := http.NewRequest("GET", "https://api.github.com/user", nil)
	alice, _ := http.NewRequest("GET", "https://api.github.com/user", nil)
	alice.Header.Set("Authorization", "Bearer alice")
	bob, _ := http.NewRequest("GET", "https://api.github.com/user", nil)
	bob.Header.Set("Authorization", "Bearer bob")

	keys := map[string]bool{
		KeyFromRequest(anon).String():  true,
		KeyFromRequest(alice).String(): true,
		KeyFromRequest(bob).String():   true,
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 distinct keys, got %v", keys)
	}
	if KeyFromRequest(alice).Credential == "Bearer alice" {
		t.Error("credential must not be stored in clear")
	}
}
