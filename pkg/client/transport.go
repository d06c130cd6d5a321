package client

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// TransportConfig describes the HTTP client used for one upstream.
type TransportConfig struct {
	// Base is the underlying round tripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Token enables bearer authentication (GitHub).
	Token string

	// Username and Password enable basic authentication (Jira).
	Username string
	Password string

	// RequestsPerSecond throttles requests proactively. Zero disables it.
	RequestsPerSecond float64
	Burst             int

	// Timeout is the per attempt timeout. Defaults to 30s.
	Timeout time.Duration

	// Middleware wraps the throttled transport, outermost last, and sits
	// below authentication so it sees the Authorization header. The
	// response cache is plugged in here.
	Middleware []func(http.RoundTripper) http.RoundTripper
}

// NewHTTPClient builds the HTTP client for an upstream: throttle, then any
// middleware, then authentication.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	rt := cfg.Base
	if rt == nil {
		rt = http.DefaultTransport
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		rt = &throttledTransport{
			base:    rt,
			limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		}
	}

	for _, wrap := range cfg.Middleware {
		rt = wrap(rt)
	}

	switch {
	case cfg.Token != "":
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   rt,
		}
	case cfg.Username != "":
		rt = &basicAuthTransport{base: rt, username: cfg.Username, password: cfg.Password}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

// throttledTransport waits on a token bucket before each request.
type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return t.base.RoundTrip(req)
}

type basicAuthTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(clone)
}
