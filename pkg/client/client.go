// Package client executes single logical upstream requests with retry,
// response validation and cancellation. It is the building block every
// paginated fetch is made of.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/Sternrassler/forge-sync/pkg/progress"
	"github.com/Sternrassler/forge-sync/pkg/schema"
	"github.com/rs/zerolog"
)

// NoRetries disables retries for a single call. Options.Retries of zero
// means "use the executor default".
const NoRetries = -1

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do implements Doer.
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RateTracker shares upstream quota state between requests. Wait blocks
// while the quota is exhausted; Observe records the quota headers of a
// response.
type RateTracker interface {
	Wait(ctx context.Context, upstream string) error
	Observe(ctx context.Context, upstream string, header http.Header) error
}

// Config holds the executor configuration.
type Config struct {
	// HTTPClient performs the requests. Defaults to a client with a 30s timeout.
	HTTPClient Doer

	// UserAgent is sent with every request (REQUIRED by GitHub).
	UserAgent string

	// Retries is the default retry limit after the initial attempt.
	Retries int

	// Strategy is the default backoff strategy.
	Strategy backoff.Strategy

	// Tracker is optional.
	Tracker RateTracker

	// Sink receives progress events of every call in addition to the
	// per-call sink.
	Sink progress.Sink
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  userAgent,
		Retries:    3,
		Strategy:   backoff.NewDefault(),
	}
}

// Options tune a single Execute call.
type Options struct {
	// Schema validates the decoded body of 2xx responses.
	Schema schema.Validator

	// Retries overrides Config.Retries when non-zero; NoRetries disables
	// retrying.
	Retries int

	// Strategy overrides Config.Strategy.
	Strategy backoff.Strategy

	// Sink receives the progress events of this call.
	Sink progress.Sink

	// Upstream labels metrics, logs and the rate tracker ("github", "jira").
	Upstream string
}

// Result is an accepted response.
type Result struct {
	Response *http.Response

	// Data is the validated value: the schema output when a schema was
	// given, otherwise the decoded JSON (any) or the body text.
	Data any

	// Body is the raw response body. Response.Body is re-readable as well.
	Body []byte
}

// OK reports whether the response status is 2xx.
func (r *Result) OK() bool {
	return r.Response != nil && r.Response.StatusCode >= 200 && r.Response.StatusCode < 300
}

// Executor runs requests.
type Executor struct {
	httpClient Doer
	config     Config
	logger     zerolog.Logger
}

// New creates an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0 (got %d)", cfg.Retries)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Strategy == nil {
		cfg.Strategy = backoff.NewDefault()
	}

	return &Executor{
		httpClient: cfg.HTTPClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentExecutor),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (e *Executor) SetHTTPClient(doer Doer) {
	e.httpClient = doer
}

// SetLogger replaces the executor logger.
func (e *Executor) SetLogger(logger zerolog.Logger) {
	e.logger = logger
}

// Execute performs req, retrying as directed by the backoff strategy.
//
// A response the strategy declines to retry is returned as a Result even if
// its status is not 2xx; callers decide what a 404 means. When the last
// attempt failed with a transport or validation error, Execute returns a
// *ResponseError wrapping it. Cancellation returns an error matching
// ErrCancelled.
func (e *Executor) Execute(ctx context.Context, req *Request, opts Options) (*Result, error) {
	retries := e.config.Retries
	switch {
	case opts.Retries == NoRetries:
		retries = 0
	case opts.Retries > 0:
		retries = opts.Retries
	}

	strategy := e.config.Strategy
	if opts.Strategy != nil {
		strategy = opts.Strategy
	}

	upstream := opts.Upstream
	if upstream == "" {
		upstream = req.URL().Host
	}

	sink := progress.Multi(e.config.Sink, opts.Sink)
	emit := func(ev progress.Event) {
		ev.Upstream = upstream
		ev.URL = req.URL().String()
		ev.Retries = retries
		progress.Emit(sink, ev)
	}

	logger := e.logger.With().Str("upstream", upstream).Str("url", req.URL().String()).Logger()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		if e.config.Tracker != nil {
			if err := e.config.Tracker.Wait(ctx, upstream); err != nil {
				if ctx.Err() != nil {
					return nil, cancelled(ctx.Err())
				}
				logger.Warn().Err(err).Msg("Rate limit gate failed")
			}
		}

		emit(progress.Event{Kind: progress.KindFetching, Attempt: attempt})
		logger.Debug().Int("attempt", attempt).Str("method", req.Method()).Msg("Executing request")

		resp, result, err := e.attempt(ctx, req, opts.Schema, upstream)
		if err != nil && ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}

		if resp != nil {
			emit(progress.Event{Kind: progress.KindFetched, Attempt: attempt, Response: resp})
			if e.config.Tracker != nil {
				if terr := e.config.Tracker.Observe(ctx, upstream, resp.Header); terr != nil {
					logger.Warn().Err(terr).Msg("Failed to record rate limit state")
				}
			}
		}
		if err != nil {
			emit(progress.Event{Kind: progress.KindError, Attempt: attempt, Response: resp, Err: err})
		}

		decision := strategy.Decide(attempt, backoff.Input{Response: resp, Err: err})

		if !decision.Retry() || attempt >= retries {
			emit(progress.Event{Kind: progress.KindDone, Attempt: attempt, Response: resp, Err: err, Reason: decision.Reason})

			if decision.Retry() {
				retryExhaustedTotal.WithLabelValues(upstream).Inc()
				logger.Warn().Int("retries", retries).Str("reason", decision.Reason).Msg("Retry attempts exhausted")
			}

			if err != nil {
				rerr := &ResponseError{Request: req, Err: err}
				if resp != nil {
					rerr.StatusCode = resp.StatusCode
					rerr.Status = resp.Status
				}
				return nil, rerr
			}
			return result, nil
		}

		delay := *decision.Delay
		emit(progress.Event{
			Kind:     progress.KindRetrying,
			Attempt:  attempt,
			Response: resp,
			Err:      err,
			Delay:    delay,
			Reason:   decision.Reason,
		})
		retriesTotal.WithLabelValues(upstream, reasonClass(decision.Reason)).Inc()
		retryBackoffSeconds.WithLabelValues(upstream).Observe(delay.Seconds())
		logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("reason", decision.Reason).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, delay); err != nil {
			logger.Warn().Int("attempt", attempt).Msg("Context cancelled during retry backoff")
			return nil, cancelled(err)
		}
	}
}

// attempt performs one transport call and decodes the body. The returned
// response is non-nil whenever the upstream answered, even if err reports a
// validation failure.
func (e *Executor) attempt(ctx context.Context, req *Request, validator schema.Validator, upstream string) (*http.Response, *Result, error) {
	httpReq, err := req.HTTP(ctx)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("User-Agent", e.config.UserAgent)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	requestDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(upstream, "network_error").Inc()
		return nil, nil, &TransportError{Err: err}
	}
	requestsTotal.WithLabelValues(upstream, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	data := decodeBody(resp.Header.Get("Content-Type"), body)
	result := &Result{Response: resp, Data: data, Body: body}

	if validator != nil && result.OK() {
		validated, err := validator.Validate(data)
		if err != nil {
			return resp, nil, err
		}
		result.Data = validated
	}

	return resp, result, nil
}

// decodeBody decodes JSON bodies into an any and returns everything else as
// text. A body that claims to be JSON but does not parse is returned as text
// so a schema rejects it.
func decodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if isJSON(contentType) {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reasonClass maps a decision reason to a low cardinality metric label.
func reasonClass(reason string) string {
	switch {
	case reason == "rate-limited":
		return "rate_limited"
	case reason == "202 response":
		return "accepted"
	case strings.HasPrefix(reason, "error: "):
		return "error"
	case strings.HasPrefix(reason, "status code: "):
		return "status"
	default:
		return "other"
	}
}

// IsStatus reports whether err is a *ResponseError with the given status.
func IsStatus(err error, status int) bool {
	var rerr *ResponseError
	return errors.As(err, &rerr) && rerr.StatusCode == status
}
