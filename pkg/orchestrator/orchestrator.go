// Package orchestrator runs named sync operations concurrently, tracks the
// outcome of each and reports every failure once all of them settled.
//
// One operation failing never stops its siblings. An operation may declare
// a single prerequisite; it starts once the prerequisite succeeded, with
// the prerequisite's SyncResult as input, and is skipped with ErrPending
// if the prerequisite failed.
//
// Cancellation of the context is not a failure: Run returns the outcomes
// collected so far and a nil error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/Sternrassler/forge-sync/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	syncOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_sync_outcomes_total",
		Help: "Settled resource syncs by resource and state",
	}, []string{"resource", "state"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgesync_sync_duration_seconds",
		Help:    "Duration of resource sync operations",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"resource"})
)

// Operation syncs one resource.
type Operation func(ctx context.Context, in Inputs) (SyncResult, error)

// Inputs is handed to a running operation.
type Inputs struct {
	// Name of the resource being synced.
	Name string

	prerequisite string
	prereqResult SyncResult
	observer     Observer
}

// Prerequisite returns the result of the resource this one depends on.
// ok is false for operations without a prerequisite.
func (in Inputs) Prerequisite() (name string, result SyncResult, ok bool) {
	return in.prerequisite, in.prereqResult, in.prerequisite != ""
}

// Progress reports that the operation completed a logical step.
func (in Inputs) Progress() {
	if in.observer != nil {
		in.observer.Progress(in.Name)
	}
}

// Sink returns a progress sink that reports a step for every request that
// completes with a 2xx response. Attempts that are retried do not count.
func (in Inputs) Sink() progress.Sink {
	return progress.SinkFunc(func(e progress.Event) {
		if e.Kind != progress.KindDone || e.Err != nil {
			return
		}
		if status := e.Status(); status >= 200 && status < 300 {
			in.Progress()
		}
	})
}

// Options configure Run.
type Options struct {
	// Observer receives lifecycle events. Optional.
	Observer Observer

	// Now stamps successful outcomes whose operation returned a zero
	// SyncedAt. Defaults to time.Now.
	Now func() time.Time
}

// ValidateGraph checks that every dependency names known operations and
// that the graph has no cycles.
func ValidateGraph(ops map[string]Operation, deps map[string]string) error {
	for _, name := range sortedKeys(deps) {
		prereq := deps[name]
		if _, ok := ops[name]; !ok {
			return fmt.Errorf("dependency declared for unknown resource %q", name)
		}
		if _, ok := ops[prereq]; !ok {
			return fmt.Errorf("resource %q depends on unknown resource %q", name, prereq)
		}
	}

	for _, start := range sortedKeys(deps) {
		seen := map[string]bool{start: true}
		for cur, ok := deps[start]; ok; cur, ok = deps[cur] {
			if seen[cur] {
				return fmt.Errorf("dependency cycle through %q", start)
			}
			seen[cur] = true
		}
	}
	return nil
}

// Run executes every operation concurrently and waits for all of them to
// settle. deps maps a resource to the resource it depends on.
//
// Run returns an *AggregateError when at least one resource failed, unless
// the run was cancelled.
func Run(ctx context.Context, ops map[string]Operation, deps map[string]string, opts Options) (Result, error) {
	if err := ValidateGraph(ops, deps); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(logging.ComponentOrchestrator)

	r := &run{
		ops:      ops,
		deps:     deps,
		now:      opts.Now,
		logger:   logger,
		outcomes: make(Result, len(ops)),
		results:  make(map[string]SyncResult, len(ops)),
		settled:  make(map[string]chan struct{}, len(ops)),
	}
	if r.now == nil {
		r.now = time.Now
	}
	var observer Observer = nopObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}
	r.observer = guarded{obs: observer, logger: logger}

	for name := range ops {
		r.outcomes[name] = Outcome{State: StatePending}
		r.settled[name] = make(chan struct{})
	}

	logger.Info().Int("resources", len(ops)).Msg("Starting sync")

	var wg sync.WaitGroup
	for name := range ops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(r.settled[name])
			r.execute(ctx, name)
		}()
	}
	wg.Wait()

	result := r.snapshot()

	if ctx.Err() != nil {
		logger.Warn().
			Int("succeeded", result.Count(StateSuccess)).
			Int("pending", result.Count(StatePending)).
			Msg("Sync cancelled")
		return result, nil
	}

	if failed := result.Failed(); len(failed) > 0 {
		logger.Error().Strs("failed", failed).Msg("Sync finished with failures")
		return result, &AggregateError{Result: result}
	}

	logger.Info().Int("resources", len(result)).Msg("Sync finished")
	return result, nil
}

type run struct {
	ops      map[string]Operation
	deps     map[string]string
	now      func() time.Time
	observer Observer
	logger   zerolog.Logger

	mu       sync.Mutex
	outcomes Result
	results  map[string]SyncResult
	settled  map[string]chan struct{}
}

func (r *run) execute(ctx context.Context, name string) {
	in := Inputs{Name: name, observer: r.observer}

	if prereq, ok := r.deps[name]; ok {
		select {
		case <-ctx.Done():
			return
		case <-r.settled[prereq]:
		}

		r.mu.Lock()
		outcome := r.outcomes[prereq]
		in.prerequisite = prereq
		in.prereqResult = r.results[prereq]
		r.mu.Unlock()

		switch outcome.State {
		case StateError:
			r.logger.Warn().Str("resource", name).Str("prerequisite", prereq).Msg("Prerequisite failed, skipping")
			r.resolve(name, Outcome{State: StateError, Cause: ErrPending, Skipped: true})
			r.observer.Aborted(name, ErrPending)
			return
		case StatePending:
			// Prerequisite was cancelled.
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	r.observer.Started(name)
	start := time.Now()
	res, err := r.invoke(ctx, name, in)
	syncDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		// Only the run's own context makes an error a cancellation; an
		// operation that cancelled a sub-request on its own failed.
		if ctx.Err() != nil {
			r.observer.Aborted(name, err)
			return
		}
		r.resolve(name, Outcome{State: StateError, Cause: err})
		r.observer.Aborted(name, err)
		return
	}

	if res.SyncedAt.IsZero() {
		res.SyncedAt = r.now()
	}
	r.mu.Lock()
	r.results[name] = res
	r.mu.Unlock()
	r.resolve(name, Outcome{State: StateSuccess, SyncedAt: res.SyncedAt})
	r.observer.Finished(name)
}

// invoke runs the operation, turning a panic into an error so siblings
// still settle.
func (r *run) invoke(ctx context.Context, name string, in Inputs) (res SyncResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("operation panicked: %v", p)
		}
	}()
	return r.ops[name](ctx, in)
}

func (r *run) resolve(name string, o Outcome) {
	r.mu.Lock()
	r.outcomes[name] = o
	r.mu.Unlock()

	syncOutcomesTotal.WithLabelValues(name, string(o.State)).Inc()
	ev := r.logger.Info()
	if o.Failed() {
		ev = r.logger.Error().Err(o.Cause).Bool("skipped", o.Skipped)
	}
	ev.Str("resource", name).Str("state", string(o.State)).Msg("Resource settled")
}

func (r *run) snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(Result, len(r.outcomes))
	for name, o := range r.outcomes {
		out[name] = o
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsAggregate reports whether err is an *AggregateError.
func IsAggregate(err error) bool {
	var agg *AggregateError
	return errors.As(err, &agg)
}
