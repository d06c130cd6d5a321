// Package progress defines the events emitted while requests are executed
// and pages are followed. Events are observational: a sink can never change
// the outcome of a request.
package progress

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies an event.
type Kind string

const (
	KindFetching Kind = "fetching"
	KindFetched  Kind = "fetched"
	KindError    Kind = "error"
	KindRetrying Kind = "retrying"
	KindPaging   Kind = "paging"
	KindDone     Kind = "done"
)

// Event describes one step of a request or pagination run.
type Event struct {
	Kind Kind

	// Upstream names the service the request went to ("github", "jira").
	Upstream string

	// URL of the request the event belongs to.
	URL string

	Attempt int
	Retries int

	// Response is set on fetched, retrying and done when a response exists.
	Response *http.Response

	// Err is set on error, and on retrying/done when the attempt failed.
	Err error

	// Delay and Reason carry the backoff decision on retrying and done.
	Delay  time.Duration
	Reason string

	// PagesConsumed and MaxPages are set on paging.
	PagesConsumed int
	MaxPages      int
}

// Status returns the response status code or 0.
func (e Event) Status() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Emit delivers e to sink, swallowing panics so a misbehaving sink cannot
// break the caller. A nil sink is allowed.
func Emit(sink Sink, e Event) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Emit(e)
}

// Multi fans events out to every sink.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			Emit(s, e)
		}
	})
}

// Recorder stores events in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Logger writes events to a zerolog logger. Retries are logged at warn,
// errors at warn, everything else at debug.
func Logger(logger zerolog.Logger) Sink {
	return SinkFunc(func(e Event) {
		var ev *zerolog.Event
		switch e.Kind {
		case KindRetrying, KindError:
			ev = logger.Warn()
		default:
			ev = logger.Debug()
		}

		ev = ev.Str("event", string(e.Kind)).
			Str("upstream", e.Upstream).
			Str("url", e.URL).
			Int("attempt", e.Attempt).
			Int("retries", e.Retries)

		if status := e.Status(); status != 0 {
			ev = ev.Int("status", status)
		}
		if e.Err != nil {
			ev = ev.Err(e.Err)
		}
		if e.Kind == KindRetrying {
			ev = ev.Dur("delay", e.Delay)
		}
		if e.Reason != "" {
			ev = ev.Str("reason", e.Reason)
		}
		if e.Kind == KindPaging {
			ev = ev.Int("pages_consumed", e.PagesConsumed).Int("max_pages", e.MaxPages)
		}
		ev.Msg("request progress")
	})
}
