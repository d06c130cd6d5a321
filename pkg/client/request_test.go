package client

import (
	"context"
	"io"
	"net/http"
	"testing"
)

func TestNewRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"absolute", "https://api.github.com/repos/o/r/pulls", false},
		{"relative", "/repos/o/r/pulls", true},
		{"unparsable", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest("GET", tt.url, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRequest(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestRequest_DefaultsToGet(t *testing.T) {
	req := MustRequest("", "https://api.github.com/x", nil)
	if req.Method() != "GET" {
		t.Errorf("Method() = %q, want GET", req.Method())
	}
}

func TestRequest_Immutable(t *testing.T) {
	orig := MustRequest("GET", "https://api.github.com/repos/o/r/pulls?state=all", nil)

	withPage := orig.WithQuery("page", "2")
	withHeader := orig.WithHeader("Accept", "application/vnd.github+json")
	moved, err := orig.WithURL("https://api.github.com/repositories/1/pulls?page=3")
	if err != nil {
		t.Fatalf("WithURL: %v", err)
	}

	if orig.URL().String() != "https://api.github.com/repos/o/r/pulls?state=all" {
		t.Errorf("original URL mutated: %s", orig.URL())
	}
	if orig.Header().Get("Accept") != "" {
		t.Error("original header mutated")
	}
	if withPage.URL().Query().Get("page") != "2" || withPage.URL().Query().Get("state") != "all" {
		t.Errorf("WithQuery URL = %s", withPage.URL())
	}
	if withHeader.Header().Get("Accept") != "application/vnd.github+json" {
		t.Error("WithHeader did not set header")
	}
	if moved.URL().Path != "/repositories/1/pulls" {
		t.Errorf("WithURL path = %s", moved.URL().Path)
	}

	u := orig.URL()
	u.Path = "/changed"
	h := orig.Header()
	h.Set("X-Test", "1")
	if orig.URL().Path == "/changed" || orig.Header().Get("X-Test") != "" {
		t.Error("accessors leaked internal state")
	}
}

func TestRequest_WithURLRelative(t *testing.T) {
	orig := MustRequest("GET", "https://jira.example.com/rest/api/2/search?startAt=0", nil)

	next, err := orig.WithURL("/rest/api/2/search?startAt=50")
	if err != nil {
		t.Fatalf("WithURL: %v", err)
	}
	if got := next.URL().String(); got != "https://jira.example.com/rest/api/2/search?startAt=50" {
		t.Errorf("URL = %s", got)
	}
}

func TestRequest_HTTP(t *testing.T) {
	req := MustRequest("POST", "https://jira.example.com/rest/api/2/search", []byte(`{"jql":"project = X"}`)).
		WithHeader("Content-Type", "application/json")

	httpReq, err := req.HTTP(context.Background())
	if err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if httpReq.Method != "POST" {
		t.Errorf("Method = %s", httpReq.Method)
	}
	body, _ := io.ReadAll(httpReq.Body)
	if string(body) != `{"jql":"project = X"}` {
		t.Errorf("body = %q", body)
	}
	if httpReq.Header.Get("Content-Type") != "application/json" {
		t.Error("header not copied")
	}

	get, err := MustRequest("GET", "https://api.github.com/x", nil).HTTP(context.Background())
	if err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if get.Body != nil && get.Body != http.NoBody {
		t.Errorf("GET body = %v, want none", get.Body)
	}
}

func TestRequest_Curl(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{
			name: "plain get",
			req:  MustRequest("GET", "https://api.github.com/repos/o/r/pulls?page=2", nil),
			want: `curl 'https://api.github.com/repos/o/r/pulls?page=2'`,
		},
		{
			name: "headers sorted and credentials redacted",
			req: MustRequest("GET", "https://api.github.com/x", nil).
				WithHeader("Authorization", "Bearer secret").
				WithHeader("Accept", "application/json"),
			want: `curl -H 'Accept: application/json' -H 'Authorization: REDACTED' 'https://api.github.com/x'`,
		},
		{
			name: "post with quoted body",
			req:  MustRequest("POST", "https://jira.example.com/search", []byte(`{"jql":"summary ~ 'x'"}`)),
			want: `curl -X POST --data '{"jql":"summary ~ '\''x'\''"}' 'https://jira.example.com/search'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Curl(); got != tt.want {
				t.Errorf("Curl() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
