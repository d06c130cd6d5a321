package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/Sternrassler/forge-sync/pkg/progress"
	"github.com/Sternrassler/forge-sync/pkg/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultMaxPages is the page cap when Options.MaxPages is zero.
const DefaultMaxPages = 1000

// ErrTooManyPages is returned when a paginator is asked to follow more than
// MaxPages next requests.
var ErrTooManyPages = errors.New("too many pages")

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forgesync_pages_total",
	Help: "Total pages fetched by upstream",
}, []string{"upstream"})

// Executor runs one logical request. *client.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req *client.Request, opts client.Options) (*client.Result, error)
}

// NextFunc derives the request for the following page from the previous
// request, its response and the validated data. It returns nil when there
// are no more pages.
type NextFunc func(prev *client.Request, resp *http.Response, data any) (*client.Request, error)

// Options configure a Paginator.
type Options struct {
	Schema   schema.Validator
	MaxPages int
	Retries  int
	Strategy backoff.Strategy
	Next     NextFunc
	Sink     progress.Sink
	Upstream string
}

// Cursor is the position of a Paginator.
type Cursor struct {
	// Current is the request that will be issued next, nil once exhausted.
	Current       *client.Request
	PagesConsumed int
	MaxPages      int
}

// Paginator iterates over the pages of an endpoint.
type Paginator struct {
	exec   Executor
	opts   Options
	cursor Cursor
	page   *client.Result
	err    error
	done   bool
	logger zerolog.Logger
}

// New creates a paginator starting at initial. Nothing is fetched until
// Next is called.
func New(exec Executor, initial *client.Request, opts Options) *Paginator {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Next == nil {
		opts.Next = LinkNext
	}
	return &Paginator{
		exec: exec,
		opts: opts,
		cursor: Cursor{
			Current:  initial,
			MaxPages: opts.MaxPages,
		},
		logger: logging.NewLogger(logging.ComponentPaginator),
	}
}

// Next fetches the next page. It returns false when the pages are exhausted
// or an error occurred; check Err afterwards.
func (p *Paginator) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if p.cursor.Current == nil {
		p.finish(nil)
		return false
	}

	req := p.cursor.Current
	result, err := p.exec.Execute(ctx, req, client.Options{
		Schema:   p.opts.Schema,
		Retries:  p.opts.Retries,
		Strategy: p.opts.Strategy,
		Sink:     p.opts.Sink,
		Upstream: p.opts.Upstream,
	})
	if err != nil {
		p.finish(err)
		return false
	}
	if !result.OK() {
		p.finish(&client.ResponseError{
			Request:    req,
			StatusCode: result.Response.StatusCode,
			Status:     result.Response.Status,
		})
		return false
	}
	pagesTotal.WithLabelValues(p.opts.Upstream).Inc()

	next, err := p.opts.Next(req, result.Response, result.Data)
	if err != nil {
		p.finish(fmt.Errorf("next page of %s: %w", req, err))
		return false
	}

	if next != nil {
		p.cursor.PagesConsumed++
		if p.cursor.PagesConsumed > p.opts.MaxPages {
			// The current page is still delivered; the error surfaces on
			// the following call.
			p.cursor.Current = nil
			p.page = result
			p.err = fmt.Errorf("%w: cannot fetch more than %d pages exhaustively", ErrTooManyPages, p.opts.MaxPages)
			return true
		}
		progress.Emit(p.opts.Sink, progress.Event{
			Kind:          progress.KindPaging,
			Upstream:      p.opts.Upstream,
			URL:           next.URL().String(),
			PagesConsumed: p.cursor.PagesConsumed,
			MaxPages:      p.opts.MaxPages,
		})
		p.logger.Debug().
			Str("upstream", p.opts.Upstream).
			Str("next", next.URL().String()).
			Int("pages_consumed", p.cursor.PagesConsumed).
			Msg("Following next page")
	}

	p.cursor.Current = next
	p.page = result
	return true
}

func (p *Paginator) finish(err error) {
	p.done = true
	p.page = nil
	if p.err == nil {
		p.err = err
	}
}

// Page returns the page fetched by the last successful call to Next.
func (p *Paginator) Page() *client.Result {
	return p.page
}

// Err returns the first error encountered, or nil when pagination ended
// normally.
func (p *Paginator) Err() error {
	if !p.done {
		return nil
	}
	return p.err
}

// Cursor returns the current position.
func (p *Paginator) Cursor() Cursor {
	return p.cursor
}

// Collect drains p and returns every page.
func Collect(ctx context.Context, p *Paginator) ([]*client.Result, error) {
	var pages []*client.Result
	for p.Next(ctx) {
		pages = append(pages, p.Page())
	}
	return pages, p.Err()
}

// Each drains p, calling fn for every page. It stops at the first error
// returned by fn.
func Each(ctx context.Context, p *Paginator, fn func(*client.Result) error) error {
	for p.Next(ctx) {
		if err := fn(p.Page()); err != nil {
			return err
		}
	}
	return p.Err()
}
