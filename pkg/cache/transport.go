package cache

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/rs/zerolog"
)

// Store is the subset of Manager used by Transport.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, key Key, entry *Entry) error
	Touch(ctx context.Context, key Key) error
}

// Transport revalidates GET requests against stored responses. Cache
// failures are logged and the request proceeds uncached.
type Transport struct {
	Base   http.RoundTripper
	Store  Store
	Logger zerolog.Logger
}

// Middleware returns a function wrapping a RoundTripper in a Transport.
func Middleware(store Store, logger zerolog.Logger) func(http.RoundTripper) http.RoundTripper {
	logger = logger.With().Str("component", logging.ComponentCache).Logger()
	return func(base http.RoundTripper) http.RoundTripper {
		return &Transport{Base: base, Store: store, Logger: logger}
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.Header.Get("If-None-Match") != "" {
		return t.base().RoundTrip(req)
	}

	ctx := req.Context()
	key := KeyFromRequest(req)

	entry, err := t.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		t.Logger.Warn().Err(err).Str("key", key.String()).Msg("Cache lookup failed")
	}

	outgoing := req
	if ShouldMakeConditionalRequest(entry) {
		outgoing = req.Clone(ctx)
		AddConditionalHeaders(outgoing, entry)
	}

	resp, err := t.base().RoundTrip(outgoing)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		resp.Body.Close()
		NotModified.Inc()
		if err := t.Store.Touch(ctx, key); err != nil {
			t.Logger.Warn().Err(err).Str("key", key.String()).Msg("Cache touch failed")
		}
		t.Logger.Debug().Str("url", req.URL.String()).Msg("Not modified, serving cached response")
		return EntryToResponse(req, entry, resp), nil
	}

	if Cacheable(resp) {
		stored, err := ResponseToEntry(resp)
		if err != nil {
			return nil, err
		}
		if err := t.Store.Set(ctx, key, stored); err != nil {
			t.Logger.Warn().Err(err).Str("key", key.String()).Msg("Cache store failed")
		}
	}

	return resp, nil
}
