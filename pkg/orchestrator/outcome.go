package orchestrator

import (
	"errors"
	"sort"
	"time"
)

// State is the lifecycle state of one resource.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateError   State = "error"
)

// ErrPending is the cause recorded for a resource that was never started
// because its prerequisite failed.
var ErrPending = errors.New("pending")

// Outcome is the settled state of one resource.
type Outcome struct {
	State State

	// SyncedAt is set on success.
	SyncedAt time.Time

	// Cause is set on error.
	Cause error

	// Skipped marks a resource whose prerequisite failed.
	Skipped bool
}

// Failed reports whether the outcome is an error.
func (o Outcome) Failed() bool {
	return o.State == StateError
}

// SyncResult is what an operation returns on success.
type SyncResult struct {
	SyncedAt time.Time

	// Items is handed to dependents, e.g. the pull numbers that
	// pull-commits syncs.
	Items any
}

// Result maps resource names to their outcome once every operation settled.
type Result map[string]Outcome

// Names returns the resource names in sorted order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns the sorted names of failed resources.
func (r Result) Failed() []string {
	var names []string
	for _, name := range r.Names() {
		if r[name].Failed() {
			names = append(names, name)
		}
	}
	return names
}

// Count returns the number of outcomes in state s.
func (r Result) Count(s State) int {
	n := 0
	for _, o := range r {
		if o.State == s {
			n++
		}
	}
	return n
}
